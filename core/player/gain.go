package player

// EffectiveGain mixes the master and track list volumes, both percentages,
// into a percentage: master*trackList/100, truncated.
func EffectiveGain(master, trackList int) int {
	return master * trackList / 100
}

// LinearGain is EffectiveGain as the linear factor handed to a Sink, in [0,1].
func LinearGain(master, trackList int) float64 {
	return float64(EffectiveGain(master, trackList)) / 100
}
