package rules

import (
	"strconv"
	"strings"
	"time"

	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/vars"
	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/world"
)

// GameClockLayout is the wire format of the session's game datetime.
const GameClockLayout = "2006-01-02 15:04"

// SessionView is the minimal session surface needed to evaluate conditions.
// This avoids an import cycle with the session package.
type SessionView interface {
	GetSceneNumber() int
	GetGameDatetime() string
}

// EvalContext carries everything a condition can be evaluated against.
type EvalContext struct {
	SessionID string
	Session   SessionView
	Vars      *vars.Store
	Geo       world.Lookup

	Turn      int
	Character string // set during character-scoped passes

	// Direct is true when the rule was invoked directly (a Next Rule jump
	// or a forced trigger) rather than reached by a sequential scan.
	Direct bool

	// PlayerPost is the round's user message; CurrentPost is the buffered
	// reply under post-pass evaluation, if any.
	PlayerPost  string
	CurrentPost string
}

// Evaluate returns whether one condition holds. Malformed conditions
// evaluate to false rather than erroring; a bad rule must never abort a round.
func Evaluate(c Condition, ec *EvalContext) bool {
	switch c.Type {
	case ConditionNone:
		// Trigger-only rules: never match during a scan, but fire when
		// invoked directly. Deliberate semantic, not a fallthrough.
		return ec.Direct
	case ConditionAlways:
		return true
	case ConditionTurn:
		return compareInt(ec.Turn, c.Target, c.Operator)
	case ConditionSceneCount:
		if ec.Session == nil {
			return false
		}
		return compareInt(ec.Session.GetSceneNumber(), c.Target, c.Operator)
	case ConditionVariable:
		return evalVariable(c, ec)
	case ConditionSetting, ConditionLocation, ConditionRegion, ConditionWorld:
		return evalGeography(c, ec)
	case ConditionGameTime:
		return evalGameTime(c, ec)
	case ConditionPostDialogue:
		return evalPostDialogue(c, ec)
	default:
		return false
	}
}

// EvaluateAll combines a rule's conditions under its logic operator.
// An empty condition list behaves like a single None condition.
func EvaluateAll(r *Rule, ec *EvalContext) bool {
	if len(r.Conditions) == 0 {
		return ec.Direct
	}
	if r.ConditionsOperator == LogicOr {
		for _, c := range r.Conditions {
			if Evaluate(c, ec) {
				return true
			}
		}
		return false
	}
	for _, c := range r.Conditions {
		if !Evaluate(c, ec) {
			return false
		}
	}
	return true
}

func evalVariable(c Condition, ec *EvalContext) bool {
	if ec.Vars == nil {
		return false
	}
	actorID := ec.Character
	if c.Scope == vars.ScopeSetting {
		actorID = currentSettingID(ec)
	}
	value, exists := ec.Vars.Get(c.Scope, c.Variable, actorID)

	switch c.Operator {
	case OpExists:
		return exists
	case OpNotExists:
		return !exists
	case OpContains:
		return exists && strings.Contains(strings.ToLower(value), strings.ToLower(c.Target))
	case OpNotContains:
		return !exists || !strings.Contains(strings.ToLower(value), strings.ToLower(c.Target))
	}
	if !exists {
		return false
	}
	return compareSmart(value, c.Target, c.Operator)
}

func evalGeography(c Condition, ec *EvalContext) bool {
	if ec.Geo == nil {
		return false
	}
	pos, err := ec.Geo.CurrentPosition(ec.SessionID)
	if err != nil {
		return false
	}
	var actual string
	switch c.Type {
	case ConditionSetting:
		actual = pos.SettingID
	case ConditionLocation:
		actual = pos.LocationID
	case ConditionRegion:
		actual = pos.RegionID
	case ConditionWorld:
		actual = pos.WorldID
	}
	match := world.Equal(actual, c.Name)
	if c.Operator == OpNotEqual {
		return !match
	}
	return match
}

func evalGameTime(c Condition, ec *EvalContext) bool {
	if ec.Session == nil {
		return false
	}
	t, err := time.Parse(GameClockLayout, ec.Session.GetGameDatetime())
	if err != nil {
		return false
	}
	var unit int
	switch c.Unit {
	case UnitDay:
		unit = t.Day()
	default:
		unit = t.Hour()
	}
	return compareInt(unit, c.Target, c.Operator)
}

func evalPostDialogue(c Condition, ec *EvalContext) bool {
	post := ec.CurrentPost
	if post == "" {
		post = ec.PlayerPost
	}
	if strings.TrimSpace(post) == "" {
		return false
	}

	total, quoted := 0, 0
	for _, line := range strings.Split(post, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		total++
		if strings.Contains(line, `"`) {
			quoted++
		}
	}

	switch c.Amount {
	case DialogueAll:
		return total > 0 && quoted == total
	case DialogueNone:
		return quoted == 0
	default:
		return quoted > 0
	}
}

// compareInt compares an observed int against a string-encoded target.
// An unparsable target means the condition is malformed and yields false.
func compareInt(actual int, target string, op Operator) bool {
	want, err := strconv.Atoi(strings.TrimSpace(target))
	if err != nil {
		return false
	}
	switch op {
	case OpNotEqual:
		return actual != want
	case OpGreater:
		return actual > want
	case OpLess:
		return actual < want
	case OpGreaterEqual:
		return actual >= want
	case OpLessEqual:
		return actual <= want
	default:
		return actual == want
	}
}

// compareSmart compares two string values with numeric coercion: both sides
// as ints, else both as floats, else as case-insensitive trimmed strings.
func compareSmart(left, right string, op Operator) bool {
	if li, lerr := strconv.Atoi(strings.TrimSpace(left)); lerr == nil {
		if ri, rerr := strconv.Atoi(strings.TrimSpace(right)); rerr == nil {
			return compareOrdered(li, ri, op)
		}
	}
	if lf, lerr := strconv.ParseFloat(strings.TrimSpace(left), 64); lerr == nil {
		if rf, rerr := strconv.ParseFloat(strings.TrimSpace(right), 64); rerr == nil {
			return compareOrdered(lf, rf, op)
		}
	}
	ls := strings.ToLower(strings.TrimSpace(left))
	rs := strings.ToLower(strings.TrimSpace(right))
	return compareOrdered(ls, rs, op)
}

func compareOrdered[T int | float64 | string](left, right T, op Operator) bool {
	switch op {
	case OpNotEqual:
		return left != right
	case OpGreater:
		return left > right
	case OpLess:
		return left < right
	case OpGreaterEqual:
		return left >= right
	case OpLessEqual:
		return left <= right
	default:
		return left == right
	}
}

func currentSettingID(ec *EvalContext) string {
	if ec.Geo == nil {
		return ""
	}
	pos, err := ec.Geo.CurrentPosition(ec.SessionID)
	if err != nil {
		return ""
	}
	return pos.SettingID
}
