package symcache

// frequencyFixedPointScale converts the float smoothed-frequency value into
// the fixed-point representation stored in the atomic counter, so frequency
// updates stay lock-free single-word operations (spec §4.6, §9).
const frequencyFixedPointScale = 1 << 16

// frequencySmoothingAlpha is the exponential moving average weight applied
// to each tick's observed rate; 0.3 favors recent behavior while damping
// single-tick noise enough that ordinary traffic variance does not itself
// look like a peak.
const frequencySmoothingAlpha = 0.3

// updateFrequency folds one tick's raw count into the smoothed frequency and
// reports whether the new rate constitutes a peak relative to the previous
// baseline. It is called only from Periodic, never from the scheduling hot
// path.
func updateFrequency(st *ItemStats, elapsedSeconds float64, peakThreshold float64, suppressPeak bool) (isPeak bool) {
	if elapsedSeconds <= 0 {
		return false
	}
	raw := st.lastCount.Swap(0)
	rate := float64(raw) / elapsedSeconds

	prevFixed := st.frequency.Load()
	prev := float64(prevFixed) / frequencyFixedPointScale

	var next float64
	if prevFixed == 0 {
		next = rate
	} else {
		next = prev + frequencySmoothingAlpha*(rate-prev)
	}
	st.frequency.Store(int64(next * frequencyFixedPointScale))

	if suppressPeak || prev <= 0 {
		return false
	}
	if rate >= prev*peakThreshold {
		st.peaks.Add(1)
		return true
	}
	return false
}

// recordHit/recordMiss/recordSkip update the outcome counters. They are the
// only writers the Scheduler uses on the hot path and are plain unsynchronized
// atomic increments, per spec §4.6/§5.
func (st *ItemStats) recordHit(elapsedNs int64) {
	st.hits.Add(1)
	st.totalTimeNs.Add(elapsedNs)
	st.lastCount.Add(1)
}

func (st *ItemStats) recordMiss(elapsedNs int64) {
	st.misses.Add(1)
	st.totalTimeNs.Add(elapsedNs)
	st.lastCount.Add(1)
}

func (st *ItemStats) recordSkip() {
	st.skips.Add(1)
}

// RecordHit, RecordMiss and RecordSkip are the scheduler-facing entry points
// for the outcome counters above; kept as package-level functions (rather
// than exporting the methods themselves) so ItemStats' atomics stay provably
// hot-path-only writes reachable solely through these three call sites.
func RecordHit(it *Item, elapsedNs int64)  { it.stats.recordHit(elapsedNs) }
func RecordMiss(it *Item, elapsedNs int64) { it.stats.recordMiss(elapsedNs) }
func RecordSkip(it *Item)                  { it.stats.recordSkip() }

// UpdateFrequency is Periodic's sole entry point into the frequency-smoothing
// hook, keeping the fixed-point representation and the moving-average
// constants private to this package.
func UpdateFrequency(st *ItemStats, elapsedSeconds float64, peakThreshold float64, suppressPeak bool) bool {
	return updateFrequency(st, elapsedSeconds, peakThreshold, suppressPeak)
}
