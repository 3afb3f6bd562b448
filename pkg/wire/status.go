package wire

// Status represents a response status code.
type Status uint8

const (
	// StatusSuccess indicates the operation completed successfully.
	StatusSuccess Status = 0

	// StatusUnknownNode indicates the node doesn't exist on the network.
	StatusUnknownNode Status = 1

	// StatusUnknownEntry indicates the object entry doesn't exist on the node.
	StatusUnknownEntry Status = 2

	// StatusUnknownStream indicates the listener stream is not open.
	StatusUnknownStream Status = 3

	// StatusInvalidCommand indicates the command is not understood.
	StatusInvalidCommand Status = 4

	// StatusInvalidValue indicates a value does not match the entry type.
	StatusInvalidValue Status = 5

	// StatusReadOnly indicates an attempt to set a read-only entry.
	StatusReadOnly Status = 6

	// StatusUnsupported indicates the operation is not supported.
	StatusUnsupported Status = 7

	// StatusBusy indicates the bridge is busy; try again later.
	StatusBusy Status = 8

	// StatusTimeout indicates the node did not answer in time.
	StatusTimeout Status = 9

	// StatusBusOff indicates the CAN bus is unavailable.
	StatusBusOff Status = 10

	// StatusInternal indicates an unexpected bridge failure.
	StatusInternal Status = 11
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusUnknownNode:
		return "UNKNOWN_NODE"
	case StatusUnknownEntry:
		return "UNKNOWN_ENTRY"
	case StatusUnknownStream:
		return "UNKNOWN_STREAM"
	case StatusInvalidCommand:
		return "INVALID_COMMAND"
	case StatusInvalidValue:
		return "INVALID_VALUE"
	case StatusReadOnly:
		return "READ_ONLY"
	case StatusUnsupported:
		return "UNSUPPORTED"
	case StatusBusy:
		return "BUSY"
	case StatusTimeout:
		return "TIMEOUT"
	case StatusBusOff:
		return "BUS_OFF"
	case StatusInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// IsSuccess returns true if the status indicates success.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}

// IsError returns true if the status indicates an error.
func (s Status) IsError() bool {
	return s != StatusSuccess
}
