package ruleengine

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// ActionType is the discriminator stored in the "type" field of every action.
type ActionType string

const (
	ActionRouteToPool    ActionType = "ROUTE_TO_POOL"
	ActionRouteToAccount ActionType = "ROUTE_TO_ACCOUNT"
	ActionBlock          ActionType = "BLOCK"
	ActionFlagForReview  ActionType = "FLAG_FOR_REVIEW"
	ActionApplySurcharge ActionType = "APPLY_SURCHARGE"
	ActionApplyDiscount  ActionType = "APPLY_DISCOUNT"
	ActionRequire3DS     ActionType = "REQUIRE_3DS"
	ActionSkip3DS        ActionType = "SKIP_3DS"
	ActionAddMetadata    ActionType = "ADD_METADATA"
	ActionNotify         ActionType = "NOTIFY"
	ActionLogOnly        ActionType = "LOG_ONLY"
)

// Action is a closed sum type: only the structs in this file implement it.
type Action interface {
	Type() ActionType
	isAction()
}

type RouteToPool struct {
	PoolID string `json:"pool_id"`
}

// RouteToAccount routes to AccountIDs[0]; the remaining ids become fallbacks.
type RouteToAccount struct {
	AccountIDs []string `json:"account_ids"`
}

type Block struct {
	Reason string `json:"reason,omitempty"`
	Code   string `json:"code,omitempty"`
}

type FlagForReview struct {
	Reason   string         `json:"reason,omitempty"`
	Priority ReviewPriority `json:"priority,omitempty"`
}

// AdjustmentMode selects how an Adjustment value is interpreted.
type AdjustmentMode string

const (
	AdjustmentPercentage AdjustmentMode = "PERCENTAGE"
	AdjustmentFixed      AdjustmentMode = "FIXED"
)

var hundred = decimal.NewFromInt(100)

// Adjustment is either a percentage of the original amount or a flat amount.
type Adjustment struct {
	Mode  AdjustmentMode  `json:"mode"`
	Value decimal.Decimal `json:"value"`
}

// AmountFor resolves the adjustment against the original transaction amount.
func (a Adjustment) AmountFor(original decimal.Decimal) decimal.Decimal {
	if a.Mode == AdjustmentPercentage {
		return original.Mul(a.Value).Div(hundred)
	}
	return a.Value
}

type ApplySurcharge struct {
	Adjustment
}

type ApplyDiscount struct {
	Adjustment
}

type Require3DS struct{}

type Skip3DS struct{}

type AddMetadata struct {
	Values map[string]any `json:"values"`
}

type Notify struct {
	Channel   string `json:"channel,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Message   string `json:"message,omitempty"`
}

type LogOnly struct {
	Message string `json:"message,omitempty"`
}

func (RouteToPool) Type() ActionType    { return ActionRouteToPool }
func (RouteToAccount) Type() ActionType { return ActionRouteToAccount }
func (Block) Type() ActionType          { return ActionBlock }
func (FlagForReview) Type() ActionType  { return ActionFlagForReview }
func (ApplySurcharge) Type() ActionType { return ActionApplySurcharge }
func (ApplyDiscount) Type() ActionType  { return ActionApplyDiscount }
func (Require3DS) Type() ActionType     { return ActionRequire3DS }
func (Skip3DS) Type() ActionType        { return ActionSkip3DS }
func (AddMetadata) Type() ActionType    { return ActionAddMetadata }
func (Notify) Type() ActionType         { return ActionNotify }
func (LogOnly) Type() ActionType        { return ActionLogOnly }

func (RouteToPool) isAction()    {}
func (RouteToAccount) isAction() {}
func (Block) isAction()          {}
func (FlagForReview) isAction()  {}
func (ApplySurcharge) isAction() {}
func (ApplyDiscount) isAction()  {}
func (Require3DS) isAction()     {}
func (Skip3DS) isAction()        {}
func (AddMetadata) isAction()    {}
func (Notify) isAction()         {}
func (LogOnly) isAction()        {}

// newAction returns a pointer to a zero value of the concrete action for t.
func newAction(t ActionType) (Action, error) {
	switch t {
	case ActionRouteToPool:
		return &RouteToPool{}, nil
	case ActionRouteToAccount:
		return &RouteToAccount{}, nil
	case ActionBlock:
		return &Block{}, nil
	case ActionFlagForReview:
		return &FlagForReview{}, nil
	case ActionApplySurcharge:
		return &ApplySurcharge{}, nil
	case ActionApplyDiscount:
		return &ApplyDiscount{}, nil
	case ActionRequire3DS:
		return &Require3DS{}, nil
	case ActionSkip3DS:
		return &Skip3DS{}, nil
	case ActionAddMetadata:
		return &AddMetadata{}, nil
	case ActionNotify:
		return &Notify{}, nil
	case ActionLogOnly:
		return &LogOnly{}, nil
	}
	return nil, fmt.Errorf("unknown action type %q", t)
}

// deref turns the pointer produced by newAction back into a value action.
func deref(a Action) Action {
	switch v := a.(type) {
	case *RouteToPool:
		return *v
	case *RouteToAccount:
		return *v
	case *Block:
		return *v
	case *FlagForReview:
		return *v
	case *ApplySurcharge:
		return *v
	case *ApplyDiscount:
		return *v
	case *Require3DS:
		return *v
	case *Skip3DS:
		return *v
	case *AddMetadata:
		return *v
	case *Notify:
		return *v
	case *LogOnly:
		return *v
	}
	return a
}

// Actions is the ordered action list of a rule.
// It is encoded as a JSON array of objects discriminated by "type":
//
//	[{"type":"ROUTE_TO_POOL","pool_id":"eu-pool"},{"type":"REQUIRE_3DS"}]
type Actions []Action

// MarshalJSON writes every action with its "type" discriminator.
func (as Actions) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(as))
	for _, a := range as {
		body, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s action: %w", a.Type(), err)
		}

		fields := map[string]json.RawMessage{}
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, fmt.Errorf("failed to encode %s action: %w", a.Type(), err)
		}
		typ, _ := json.Marshal(a.Type())
		fields["type"] = typ

		encoded, err := json.Marshal(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, encoded)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the discriminated array. Unknown types are rejected.
func (as *Actions) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("actions must be a JSON array: %w", err)
	}

	decoded := make(Actions, 0, len(raw))
	for i, item := range raw {
		var head struct {
			Type ActionType `json:"type"`
		}
		if err := json.Unmarshal(item, &head); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}

		target, err := newAction(head.Type)
		if err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
		if err := json.Unmarshal(item, target); err != nil {
			return fmt.Errorf("action %d (%s): %w", i, head.Type, err)
		}
		decoded = append(decoded, deref(target))
	}

	*as = decoded
	return nil
}

// Types lists the discriminators in order.
func (as Actions) Types() []ActionType {
	types := make([]ActionType, len(as))
	for i, a := range as {
		types[i] = a.Type()
	}
	return types
}

// ApplyAction folds one action into the decision accumulator.
// original is the untouched transaction amount; percentage adjustments are
// always computed against it so that stacked adjustments never compound.
func ApplyAction(d *Decision, action Action, original decimal.Decimal) {
	switch a := action.(type) {
	case RouteToPool:
		if a.PoolID != "" {
			d.PoolID = a.PoolID
		}
	case RouteToAccount:
		if len(a.AccountIDs) == 0 {
			return
		}
		d.AccountID = a.AccountIDs[0]
		d.FallbackAccountIDs = nil
		if len(a.AccountIDs) > 1 {
			d.FallbackAccountIDs = append([]string(nil), a.AccountIDs[1:]...)
		}
	case Block:
		d.Blocked = true
		d.BlockReason = a.Reason
		d.BlockCode = a.Code
	case FlagForReview:
		d.FlaggedForReview = true
		d.ReviewReason = a.Reason
		d.ReviewPriority = a.Priority
	case ApplySurcharge:
		d.Surcharge = d.Surcharge.Add(a.AmountFor(original))
	case ApplyDiscount:
		d.Discount = d.Discount.Add(a.AmountFor(original))
	case Require3DS:
		d.Require3DS = true
	case Skip3DS:
		d.Require3DS = false
	case AddMetadata:
		if len(a.Values) == 0 {
			return
		}
		if d.Metadata == nil {
			d.Metadata = make(map[string]any, len(a.Values))
		}
		for k, v := range a.Values {
			d.Metadata[k] = cloneValue(v)
		}
	case Notify, LogOnly:
		// Observability only.
	}
}

// cloneValue deep-copies the JSON containers of a metadata value so that a
// decision never aliases the cached rule it came from.
func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, nested := range x {
			out[k] = cloneValue(nested)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, nested := range x {
			out[i] = cloneValue(nested)
		}
		return out
	default:
		return v
	}
}
