package floor

// Decision represents the action the floor manager wants to take.
type Decision struct {
    ShouldStop bool
    StopItemID string
    AudioEndMs int64  // how much of the item the caller actually heard
    Reason     string // e.g., "barge_in"
}

// Manager tracks who holds the floor on one call, measured on the telephony
// media clock. responseStartTsMs is meaningful only while activeItemID is set.
type Manager struct {
    activeItemID      string
    responseStartTsMs int64
    latestMediaTsMs   int64
}

func New() *Manager { return &Manager{} }

// OnMedia advances the media clock. Out-of-order timestamps never move it back.
func (m *Manager) OnMedia(tsMs int64) {
    if tsMs > m.latestMediaTsMs {
        m.latestMediaTsMs = tsMs
    }
}

// OnAudioDelta latches the start of an assistant turn on its first delta, or
// when the model moves on to a different item. Reports whether it latched.
func (m *Manager) OnAudioDelta(itemID string) bool {
    if m.activeItemID != "" && m.activeItemID == itemID {
        return false
    }
    m.activeItemID = itemID
    m.responseStartTsMs = m.latestMediaTsMs
    return true
}

// OnSpeechStarted decides whether caller speech interrupts the assistant.
// A stop decision releases the floor.
func (m *Manager) OnSpeechStarted() Decision {
    if m.activeItemID == "" {
        return Decision{}
    }
    elapsed := m.latestMediaTsMs - m.responseStartTsMs
    if elapsed < 0 {
        elapsed = 0
    }
    d := Decision{ShouldStop: true, StopItemID: m.activeItemID, AudioEndMs: elapsed, Reason: "barge_in"}
    m.activeItemID = ""
    m.responseStartTsMs = 0
    return d
}

// Reset forgets everything, including the media clock.
func (m *Manager) Reset() {
    *m = Manager{}
}

func (m *Manager) LatestMediaTs() int64 { return m.latestMediaTsMs }

// Active returns the latched item and the media time its first audio went out.
func (m *Manager) Active() (itemID string, startTsMs int64, ok bool) {
    if m.activeItemID == "" {
        return "", 0, false
    }
    return m.activeItemID, m.responseStartTsMs, true
}
