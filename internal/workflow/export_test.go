package workflow

/* corrupt overwrites a run's stored state so decode failures can be exercised */
func (m *MemoryCheckpointStore) corrupt(runID string, state []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cp, ok := m.runs[runID]; ok {
		cp.State = append([]byte(nil), state...)
		m.runs[runID] = cp
	}
}
