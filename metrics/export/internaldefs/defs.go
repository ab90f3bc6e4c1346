package internaldefs

import (
	"github.com/brewboard/userauth"
)

type CounterDef struct {
	ID   userauth.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   userauth.MetricID
	Name string
	Help string
}

// BucketCount is the number of histogram buckets, +Inf included.
const BucketCount = 8

var CounterDefs = []CounterDef{
	{ID: userauth.MetricRegisterSuccess, Name: "userauth_register_success_total", Help: "Accounts created with a password."},
	{ID: userauth.MetricRegisterDuplicate, Name: "userauth_register_duplicate_total", Help: "Registrations rejected because the email exists."},
	{ID: userauth.MetricRegisterPolicyRejected, Name: "userauth_register_policy_rejected_total", Help: "Registrations rejected by the credential policy."},
	{ID: userauth.MetricRegisterRateLimited, Name: "userauth_register_rate_limited_total", Help: "Rate-limited registration attempts."},
	{ID: userauth.MetricFederatedLogin, Name: "userauth_federated_login_total", Help: "Federated sign-ins into an existing account."},
	{ID: userauth.MetricFederatedCreated, Name: "userauth_federated_created_total", Help: "Accounts created through federated sign-in."},
	{ID: userauth.MetricFederatedRejected, Name: "userauth_federated_rejected_total", Help: "Rejected federated assertions."},
	{ID: userauth.MetricLoginSuccess, Name: "userauth_login_success_total", Help: "Successful password logins."},
	{ID: userauth.MetricLoginFailure, Name: "userauth_login_failure_total", Help: "Failed password logins."},
	{ID: userauth.MetricLoginRateLimited, Name: "userauth_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: userauth.MetricSessionValid, Name: "userauth_session_valid_total", Help: "Session checks that accepted the token."},
	{ID: userauth.MetricSessionInvalid, Name: "userauth_session_invalid_total", Help: "Session checks that rejected the token."},
	{ID: userauth.MetricStoreError, Name: "userauth_store_error_total", Help: "Identity store operations that failed."},
}

var HistogramDefs = []HistogramDef{
	{ID: userauth.MetricRegisterLatency, Name: "userauth_register_latency_seconds", Help: "Registration latency."},
}

// HistogramUpperBounds are the finite bucket bounds in seconds. The last
// bucket is +Inf.
var HistogramUpperBounds = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

var HistogramBoundSuffix = []string{
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"inf",
}

func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals, the last of
// which is the sample count.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
