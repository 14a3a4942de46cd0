package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, ":8081", cfg.HTTPAddr)
	require.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 2*time.Minute, cfg.PaymentTimeout)
	require.Equal(t, 15*time.Minute, cfg.ReservationTTL)
	require.Equal(t, int64(1), cfg.LoyaltyEarnRate)
	require.Greater(t, cfg.CheckoutTimeout, cfg.PaymentTimeout)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("PAYMENT_TIMEOUT", "30s")
	t.Setenv("LOYALTY_EARN_RATE", "2")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 30*time.Second, cfg.PaymentTimeout)
	require.Equal(t, int64(2), cfg.LoyaltyEarnRate)
}
