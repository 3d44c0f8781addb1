package ldap

import (
	"context"
	"errors"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

const subsystem = "ldap"

// newLogContext configures the ldap subsystem on ctx. Its level follows
// USERCHECK_LOG_LDAP, and bind secrets never reach the output.
func newLogContext(ctx context.Context) context.Context {
	ctx = tflog.NewSubsystem(ctx, subsystem, tflog.WithLevelFromEnv("USERCHECK_LOG_LDAP"))
	return tflog.SubsystemMaskFieldValuesWithFieldKeys(ctx, subsystem, "bind_secret", "password")
}

// LogLDAPError logs LDAP-specific error information.
func LogLDAPError(ctx context.Context, operation string, err error, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}

	fields["operation"] = operation
	fields["error"] = err.Error()

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		fields["ldap_result_code"] = resultErr.ResultCode
		if resultErr.MatchedDN != "" {
			fields["ldap_matched_dn"] = resultErr.MatchedDN
		}
	}
	fields["error_category"] = string(GetErrorCategory(err))

	tflog.SubsystemError(ctx, subsystem, "LDAP operation failed", fields)
}

// LogConnectionEvent logs connection-related events.
func LogConnectionEvent(ctx context.Context, event string, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}

	fields["event"] = event

	switch event {
	case "connection_established", "connection_closed":
		tflog.SubsystemInfo(ctx, subsystem, "Connection event", fields)
	case "connection_failed", "authentication_failed":
		tflog.SubsystemError(ctx, subsystem, "Connection event", fields)
	case "bind_retry", "search_retry", "tls_options_ignored":
		tflog.SubsystemWarn(ctx, subsystem, "Connection event", fields)
	default:
		tflog.SubsystemDebug(ctx, subsystem, "Connection event", fields)
	}
}
