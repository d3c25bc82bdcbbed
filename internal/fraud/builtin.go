package fraud

// BuiltinRules returns the stock heuristic rule set. Order matters:
// triggered factors are reported in this order, and elevated_amount is
// scoped so it never stacks with high_amount.
func BuiltinRules() []*Rule {
	return []*Rule{
		{
			ID:          "high_amount",
			Description: "Transaction amount exceeds 5000",
			Expression:  `amount > 5000.0`,
			Increment:   0.4,
			Enabled:     true,
		},
		{
			ID:          "elevated_amount",
			Description: "Transaction amount between 2000 and 5000",
			Expression:  `amount > 2000.0 && amount <= 5000.0`,
			Increment:   0.2,
			Enabled:     true,
		},
		{
			ID:          "unusual_location",
			Description: "Location matches a high-risk region",
			Expression: `["RUSSIA", "CHINA", "IRAN", "NORTH KOREA", "MOSCOW", "BEIJING",
				"UNKNOWN", "OFFSHORE", "SANCTIONED", "HIGH RISK"].exists(c, location_upper.contains(c))`,
			Increment: 0.4,
			Enabled:   true,
		},
		{
			ID:          "risky_merchant",
			Description: "Merchant matches a high-risk category",
			Expression: `["CASH ADVANCE", "CASINO", "GAMBLING", "CRYPTO", "WIRE TRANSFER",
				"ATM CASH", "UNKNOWN MERCHANT", "PAWN"].exists(m, merchant_upper.contains(m))`,
			Increment: 0.3,
			Enabled:   true,
		},
		{
			ID:          "odd_hour",
			Description: "Transaction between midnight and 05:59",
			Expression:  `hour >= 0 && hour <= 5`,
			Increment:   0.2,
			Enabled:     true,
		},
		{
			ID:          "card_velocity",
			Description: "Three or more transactions on the card inside the velocity window",
			Expression:  `velocity_count >= 3`,
			Increment:   0.3,
			Enabled:     true,
		},
	}
}
