package ruleengine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActions_JSON(t *testing.T) {
	t.Parallel()

	t.Run("Should decode every action type from its discriminator", func(t *testing.T) {
		t.Parallel()

		payload := `[
			{"type":"ROUTE_TO_POOL","pool_id":"eu-pool"},
			{"type":"ROUTE_TO_ACCOUNT","account_ids":["a1","a2"]},
			{"type":"BLOCK","reason":"fraud","code":"R01"},
			{"type":"FLAG_FOR_REVIEW","reason":"velocity","priority":"HIGH"},
			{"type":"APPLY_SURCHARGE","mode":"PERCENTAGE","value":"2.5"},
			{"type":"APPLY_DISCOUNT","mode":"FIXED","value":5},
			{"type":"REQUIRE_3DS"},
			{"type":"SKIP_3DS"},
			{"type":"ADD_METADATA","values":{"k":"v"}},
			{"type":"NOTIFY","channel":"email","recipient":"risk@example.com"},
			{"type":"LOG_ONLY","message":"seen"}
		]`

		var actions Actions
		require.NoError(t, json.Unmarshal([]byte(payload), &actions))
		require.Len(t, actions, 11)

		assert.Equal(t, RouteToPool{PoolID: "eu-pool"}, actions[0])
		assert.Equal(t, RouteToAccount{AccountIDs: []string{"a1", "a2"}}, actions[1])
		assert.Equal(t, Block{Reason: "fraud", Code: "R01"}, actions[2])
		assert.Equal(t, FlagForReview{Reason: "velocity", Priority: ReviewHigh}, actions[3])

		surcharge, ok := actions[4].(ApplySurcharge)
		require.True(t, ok)
		assert.Equal(t, AdjustmentPercentage, surcharge.Mode)
		assert.True(t, surcharge.Value.Equal(dec("2.5")))

		discount, ok := actions[5].(ApplyDiscount)
		require.True(t, ok)
		assert.True(t, discount.Value.Equal(dec("5")))

		assert.Equal(t, Require3DS{}, actions[6])
		assert.Equal(t, Skip3DS{}, actions[7])
		assert.Equal(t, AddMetadata{Values: map[string]any{"k": "v"}}, actions[8])
		assert.Equal(t, ActionNotify, actions[9].Type())
		assert.Equal(t, LogOnly{Message: "seen"}, actions[10])
	})

	t.Run("Should reject an unknown action type", func(t *testing.T) {
		t.Parallel()

		var actions Actions
		err := json.Unmarshal([]byte(`[{"type":"TELEPORT"}]`), &actions)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "TELEPORT")
	})

	t.Run("Should reject a non-array payload", func(t *testing.T) {
		t.Parallel()

		var actions Actions
		assert.Error(t, json.Unmarshal([]byte(`{"type":"BLOCK"}`), &actions))
	})

	t.Run("Should write the discriminator next to the payload fields", func(t *testing.T) {
		t.Parallel()

		encoded, err := json.Marshal(Actions{RouteToPool{PoolID: "p1"}, Require3DS{}})
		require.NoError(t, err)
		assert.JSONEq(t, `[{"type":"ROUTE_TO_POOL","pool_id":"p1"},{"type":"REQUIRE_3DS"}]`, string(encoded))
	})

	t.Run("Should decode null as an empty list", func(t *testing.T) {
		t.Parallel()

		var actions Actions
		require.NoError(t, json.Unmarshal([]byte(`null`), &actions))
		assert.Empty(t, actions)
	})
}

func TestApplyAction(t *testing.T) {
	t.Parallel()

	original := dec("200")

	tests := []struct {
		name   string
		action Action
		check  func(t *testing.T, d Decision)
	}{
		{
			name:   "Should set the pool",
			action: RouteToPool{PoolID: "p"},
			check: func(t *testing.T, d Decision) {
				assert.Equal(t, "p", d.PoolID)
				assert.True(t, d.Routed())
			},
		},
		{
			name:   "Should use the first account and keep the rest as fallbacks",
			action: RouteToAccount{AccountIDs: []string{"a", "b"}},
			check: func(t *testing.T, d Decision) {
				assert.Equal(t, "a", d.AccountID)
				assert.Equal(t, []string{"b"}, d.FallbackAccountIDs)
			},
		},
		{
			name:   "Should ignore an empty account list",
			action: RouteToAccount{},
			check: func(t *testing.T, d Decision) {
				assert.False(t, d.Routed())
			},
		},
		{
			name:   "Should block with reason and code",
			action: Block{Reason: "sanctions", Code: "S1"},
			check: func(t *testing.T, d Decision) {
				assert.True(t, d.Blocked)
				assert.Equal(t, "sanctions", d.BlockReason)
				assert.Equal(t, "S1", d.BlockCode)
			},
		},
		{
			name:   "Should flag for review",
			action: FlagForReview{Reason: "manual", Priority: ReviewCritical},
			check: func(t *testing.T, d Decision) {
				assert.True(t, d.FlaggedForReview)
				assert.Equal(t, ReviewCritical, d.ReviewPriority)
			},
		},
		{
			name:   "Should compute a percentage surcharge from the original amount",
			action: ApplySurcharge{Adjustment{Mode: AdjustmentPercentage, Value: dec("3")}},
			check: func(t *testing.T, d Decision) {
				assert.True(t, d.Surcharge.Equal(dec("6")), "surcharge = %s", d.Surcharge)
			},
		},
		{
			name:   "Should apply a fixed discount as-is",
			action: ApplyDiscount{Adjustment{Mode: AdjustmentFixed, Value: dec("7.25")}},
			check: func(t *testing.T, d Decision) {
				assert.True(t, d.Discount.Equal(dec("7.25")))
			},
		},
		{
			name:   "Should require 3DS",
			action: Require3DS{},
			check: func(t *testing.T, d Decision) {
				assert.True(t, d.Require3DS)
			},
		},
		{
			name:   "Should merge metadata",
			action: AddMetadata{Values: map[string]any{"psp": "adyen"}},
			check: func(t *testing.T, d Decision) {
				assert.Equal(t, "adyen", d.Metadata["psp"])
			},
		},
		{
			name:   "Should leave the decision untouched for LOG_ONLY",
			action: LogOnly{Message: "x"},
			check: func(t *testing.T, d Decision) {
				assert.Equal(t, Decision{}, d)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var d Decision
			ApplyAction(&d, tt.action, original)
			tt.check(t, d)
		})
	}

	t.Run("Should overwrite earlier metadata keys", func(t *testing.T) {
		t.Parallel()
		d := Decision{Metadata: map[string]any{"psp": "stripe", "keep": true}}
		ApplyAction(&d, AddMetadata{Values: map[string]any{"psp": "adyen"}}, original)
		assert.Equal(t, map[string]any{"psp": "adyen", "keep": true}, d.Metadata)
	})

	t.Run("Should drop fallbacks of an earlier account route", func(t *testing.T) {
		t.Parallel()
		var d Decision
		ApplyAction(&d, RouteToAccount{AccountIDs: []string{"a", "b", "c"}}, original)
		ApplyAction(&d, RouteToAccount{AccountIDs: []string{"z"}}, original)

		assert.Equal(t, "z", d.AccountID)
		assert.Empty(t, d.FallbackAccountIDs)
	})

	t.Run("Should not share nested metadata with the rule", func(t *testing.T) {
		t.Parallel()
		action := AddMetadata{Values: map[string]any{
			"routing": map[string]any{"psp": "adyen", "tags": []any{"eu"}},
		}}
		var d Decision
		ApplyAction(&d, action, original)

		nested := d.Metadata["routing"].(map[string]any)
		nested["psp"] = "stripe"
		nested["tags"].([]any)[0] = "us"

		rule := action.Values["routing"].(map[string]any)
		assert.Equal(t, "adyen", rule["psp"])
		assert.Equal(t, []any{"eu"}, rule["tags"])
	})

	t.Run("Should let Skip3DS clear an earlier requirement", func(t *testing.T) {
		t.Parallel()
		d := Decision{Require3DS: true}
		ApplyAction(&d, Skip3DS{}, original)
		assert.False(t, d.Require3DS)
	})
}
