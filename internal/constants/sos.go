package constants

const (
	// SOSPermissionDeniedMessage is reported when SOS cannot read the location.
	SOSPermissionDeniedMessage = "Location permission is required to send an SOS alert. Enable location access and try again."

	// SOSGenericErrorMessage is reported when the failure carried no usable message.
	SOSGenericErrorMessage = "Failed to send SOS alert. Please try again or call emergency services directly."

	// LocationPermissionNotice explains to the user why tracking is not running.
	LocationPermissionNotice = "Location access was denied. Your devices' locations cannot be shared until location permission is granted."
)

// Notification kinds
const (
	NotificationPermissionDenied = "location_permission_denied"
)

// SOS commands accepted on the command topic
const (
	SOSCommandTrigger = "trigger"
	SOSCommandClear   = "clear"
)
