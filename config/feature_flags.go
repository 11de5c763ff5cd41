package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags manages the worker's coarse feature toggles. The worker has no
// per-user targeting: a flag is either on for the whole deployment or off.
type FeatureFlags struct {
	mu       sync.RWMutex
	features map[string]*Feature
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool
}

// Predefined feature flag names.
const (
	// === Simulation Features ===
	FeaturePresenceSimulation = "simulation.presence" // Online/offline drift
	FeatureAccrual            = "simulation.accrual"  // Study-time accrual
	FeatureWeeklyReset        = "simulation.reset"    // Weekly reset gate

	// === Notification Features ===
	FeatureSessionReminders = "notify.session_reminders" // Session start reminders
	FeatureReportDrain      = "notify.report_drain"      // Nightly study report dispatch
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features: make(map[string]*Feature),
	}

	ff.initializeDefaults()
	ff.loadFromEnvironment()

	return ff
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeaturePresenceSimulation] = &Feature{
		Name:        FeaturePresenceSimulation,
		Description: "Drift synthetic users online/offline by time of day",
		Enabled:     true,
	}

	ff.features[FeatureAccrual] = &Feature{
		Name:        FeatureAccrual,
		Description: "Accrue study time for online synthetic users",
		Enabled:     true,
	}

	ff.features[FeatureWeeklyReset] = &Feature{
		Name:        FeatureWeeklyReset,
		Description: "Zero rolling counters at the weekly boundary",
		Enabled:     true,
	}

	ff.features[FeatureSessionReminders] = &Feature{
		Name:        FeatureSessionReminders,
		Description: "Send Telegram reminders when sessions start",
		Enabled:     true,
	}

	ff.features[FeatureReportDrain] = &Feature{
		Name:        FeatureReportDrain,
		Description: "Dispatch queued study report PDFs nightly",
		Enabled:     true,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false
// Example: FEATURE_NOTIFY_SESSION_REMINDERS=false
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		envKey := featureNameToEnvKey(name)
		if val := os.Getenv(envKey); val != "" {
			if b, err := strconv.ParseBool(val); err == nil {
				feature.Enabled = b
			}
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "notify.report_drain" -> "FEATURE_NOTIFY_REPORT_DRAIN"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled.
func (ff *FeatureFlags) IsEnabled(featureName string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}
	return feature.Enabled
}

// SetEnabled toggles a feature. Thread-safe for live updates.
func (ff *FeatureFlags) SetEnabled(featureName string, enabled bool) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}

	feature.Enabled = enabled
	return nil
}

// NotificationsEnabled checks if any notification leg is enabled.
func (ff *FeatureFlags) NotificationsEnabled() bool {
	return ff.IsEnabled(FeatureSessionReminders) || ff.IsEnabled(FeatureReportDrain)
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]*Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]*Feature, len(ff.features))
	for k, v := range ff.features {
		featureCopy := *v
		result[k] = &featureCopy
	}
	return result
}

// --- Errors ---

// ErrFeatureNotFound is returned when toggling an unknown feature.
var ErrFeatureNotFound = &FeatureFlagError{Message: "feature not found"}

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
