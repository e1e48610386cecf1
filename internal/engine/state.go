package engine

import "fmt"

// NarratorPhase is the narrator controller's position in its state machine.
type NarratorPhase string

const (
	NarratorIdle       NarratorPhase = "idle"
	NarratorDeciding   NarratorPhase = "deciding"
	NarratorSuppressed NarratorPhase = "suppressed"
	NarratorSpeaking   NarratorPhase = "speaking"
	NarratorDone       NarratorPhase = "done"
)

// OrchestratorState holds every non-reentrancy guard and per-round flag the
// pipeline flips. All transitions are named methods so the invariants are
// checkable; only the orchestrator goroutine touches them.
type OrchestratorState struct {
	roundActive       bool
	timerRound        bool
	inputEnabled      bool
	narratorInFlight  bool
	npcInFlight       bool
	narratorPhase     NarratorPhase
	npcTurnTaken      bool // any NPC completed its turn this round
	forceLastConsumed bool // the Force-Narrator-Last re-entry already happened
}

func NewOrchestratorState() *OrchestratorState {
	return &OrchestratorState{
		inputEnabled:  true,
		narratorPhase: NarratorIdle,
	}
}

func (s *OrchestratorState) RoundActive() bool  { return s.roundActive }
func (s *OrchestratorState) TimerRound() bool   { return s.timerRound }
func (s *OrchestratorState) InputEnabled() bool { return s.inputEnabled }

// BeginRound flips the round guard. It fails when a round is already in
// flight; callers drop or re-queue the input.
func (s *OrchestratorState) BeginRound(timerTriggered bool) error {
	if s.roundActive {
		return fmt.Errorf("round already active")
	}
	s.roundActive = true
	s.timerRound = timerTriggered
	s.inputEnabled = false
	s.narratorPhase = NarratorIdle
	s.npcTurnTaken = false
	s.forceLastConsumed = false
	return nil
}

// EndRound releases the round guard and re-enables input.
func (s *OrchestratorState) EndRound() {
	s.roundActive = false
	s.timerRound = false
	s.inputEnabled = true
	s.narratorPhase = NarratorIdle
	s.narratorInFlight = false
	s.npcInFlight = false
}

// BeginNarratorInference asserts the at-most-one-Narrator-inference
// invariant before dispatch.
func (s *OrchestratorState) BeginNarratorInference() error {
	if s.narratorInFlight {
		return fmt.Errorf("narrator inference already in flight")
	}
	s.narratorInFlight = true
	return nil
}

func (s *OrchestratorState) EndNarratorInference() {
	s.narratorInFlight = false
}

// BeginNPCInference asserts the one-at-a-time NPC drain invariant.
func (s *OrchestratorState) BeginNPCInference() error {
	if s.npcInFlight {
		return fmt.Errorf("npc inference already in flight")
	}
	s.npcInFlight = true
	return nil
}

func (s *OrchestratorState) EndNPCInference() {
	s.npcInFlight = false
}

func (s *OrchestratorState) NarratorPhase() NarratorPhase { return s.narratorPhase }

func (s *OrchestratorState) SetNarratorPhase(p NarratorPhase) {
	s.narratorPhase = p
}

// MarkNPCTurnTaken records that at least one NPC spoke this round, which
// unlocks the Force-Narrator-Last path.
func (s *OrchestratorState) MarkNPCTurnTaken() { s.npcTurnTaken = true }

func (s *OrchestratorState) NPCTurnTaken() bool { return s.npcTurnTaken }

// ConsumeForceLast reports whether the deferred narrator turn may still run
// this round, and spends it.
func (s *OrchestratorState) ConsumeForceLast() bool {
	if s.forceLastConsumed {
		return false
	}
	s.forceLastConsumed = true
	return true
}
