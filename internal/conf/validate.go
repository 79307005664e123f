// conf/validate.go

package conf

import (
	"fmt"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateOutputSettings(settings); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateQuerySettings(&settings.Query); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateSubscriptionSettings(&settings.Subscriptions); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateNotificationSettings(&settings.Notification); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

// validateOutputSettings checks that exactly one storage backend is enabled
func validateOutputSettings(settings *Settings) error {
	var errs []string

	sqlite := settings.Output.SQLite.Enabled
	mysql := settings.Output.MySQL.Enabled

	switch {
	case !sqlite && !mysql:
		errs = append(errs, "one of output.sqlite or output.mysql must be enabled")
	case sqlite && mysql:
		errs = append(errs, "only one of output.sqlite and output.mysql may be enabled")
	}

	if sqlite && settings.Output.SQLite.Path == "" {
		errs = append(errs, "output.sqlite.path must not be empty")
	}

	if mysql {
		if settings.Output.MySQL.Host == "" {
			errs = append(errs, "output.mysql.host must not be empty")
		}
		if settings.Output.MySQL.Database == "" {
			errs = append(errs, "output.mysql.database must not be empty")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("output settings errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// validateQuerySettings checks paging bounds
func validateQuerySettings(settings *QuerySettings) error {
	var errs []string

	if settings.DefaultPageSize <= 0 {
		errs = append(errs, "query.defaultpagesize must be positive")
	}
	if settings.MaxPageSize <= 0 {
		errs = append(errs, "query.maxpagesize must be positive")
	}
	if settings.DefaultPageSize > settings.MaxPageSize {
		errs = append(errs, "query.defaultpagesize must not exceed query.maxpagesize")
	}
	if settings.ScanBatchSize <= 0 {
		errs = append(errs, "query.scanbatchsize must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("query settings errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// validateSubscriptionSettings checks the registry cache configuration
func validateSubscriptionSettings(settings *SubscriptionSettings) error {
	if settings.CacheEnabled && settings.CacheTTL <= 0 {
		return fmt.Errorf("subscription settings errors: subscriptions.cachettl must be positive when the cache is enabled")
	}
	return nil
}

// validateNotificationSettings checks dispatch and retry configuration
func validateNotificationSettings(settings *NotificationSettings) error {
	var errs []string

	if settings.Workers <= 0 {
		errs = append(errs, "notification.workers must be positive")
	}
	if settings.QueueSize <= 0 {
		errs = append(errs, "notification.queuesize must be positive")
	}
	if settings.MaxRetries < 0 {
		errs = append(errs, "notification.maxretries must not be negative")
	}
	if settings.RetryDelay < 0 {
		errs = append(errs, "notification.retrydelay must not be negative")
	}
	if settings.StaleClaimAge <= 0 {
		errs = append(errs, "notification.staleclaimage must be positive")
	}
	if settings.RecentKeys <= 0 {
		errs = append(errs, "notification.recentkeys must be positive")
	}
	if settings.CircuitBreaker.FailureThreshold <= 0 {
		errs = append(errs, "notification.circuitbreaker.failurethreshold must be positive")
	}
	if settings.CircuitBreaker.RecoveryTimeout <= 0 {
		errs = append(errs, "notification.circuitbreaker.recoverytimeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification settings errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
