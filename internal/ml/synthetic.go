package ml

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// syntheticFraudRate is the class balance of a generated corpus.
const syntheticFraudRate = 0.1

var (
	fraudMerchants = []string{"UNKNOWN MERCHANT", "CASH ADVANCE", "ATM WITHDRAWAL"}
	fraudLocations = []string{"Unknown Location", "High Risk Country", "Offshore"}
	fraudHours     = []int{2, 3, 4, 23}

	legitMerchants = []string{"GROCERY STORE", "GAS STATION", "RESTAURANT", "RETAIL STORE"}
	legitLocations = []string{"New York, US", "Los Angeles, US", "Chicago, US"}
)

// SyntheticCorpus generates a labeled training corpus with roughly 10%
// fraud. The same seed always yields the same corpus. Fraudulent
// samples skew toward large amounts, overnight hours, and high-risk
// merchant and location strings.
func SyntheticCorpus(n int, seed int64) ([]*domain.Transaction, []int) {
	rng := rand.New(rand.NewSource(seed))
	base := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	txs := make([]*domain.Transaction, 0, n)
	labels := make([]int, 0, n)

	for i := 0; i < n; i++ {
		isFraud := rng.Float64() < syntheticFraudRate

		var amount float64
		var hour int
		var merchant, location string
		if isFraud {
			amount = math.Exp(8 + 2*rng.NormFloat64())
			hour = fraudHours[rng.Intn(len(fraudHours))]
			merchant = fraudMerchants[rng.Intn(len(fraudMerchants))]
			location = fraudLocations[rng.Intn(len(fraudLocations))]
		} else {
			amount = math.Exp(4 + 1.5*rng.NormFloat64())
			hour = 6 + rng.Intn(17)
			merchant = legitMerchants[rng.Intn(len(legitMerchants))]
			location = legitLocations[rng.Intn(len(legitLocations))]
		}

		txs = append(txs, &domain.Transaction{
			ID:         fmt.Sprintf("TXN_%06d", i),
			Amount:     decimal.NewFromFloat(amount).Round(2),
			Merchant:   merchant,
			Location:   location,
			Timestamp:  base.Add(time.Duration(hour)*time.Hour + time.Duration(rng.Intn(3600))*time.Second),
			CardNumber: fmt.Sprintf("****%04d", 1000+rng.Intn(9000)),
			Currency:   "USD",
		})
		if isFraud {
			labels = append(labels, 1)
		} else {
			labels = append(labels, 0)
		}
	}
	return txs, labels
}
