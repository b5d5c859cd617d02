package rpc

// CapabilitiesPayload is the capability-discovery response body: schema and
// protocol versions, the capability list, and the run-status/error
// contracts a client negotiates against before relying on server behavior.
type CapabilitiesPayload struct {
	SchemaVersion   int                 `json:"schema_version"`
	ProtocolVersion string              `json:"protocol_version"`
	Capabilities    []string            `json:"capabilities"`
	Contracts       capabilityContracts `json:"contracts"`
}

type capabilityContracts struct {
	RunStatus runStatusContract `json:"run_status"`
	Errors    errorsContract    `json:"errors"`
}

type runStatusContract struct {
	TerminalFlagAlwaysPresent                bool     `json:"terminal_flag_always_present"`
	ServeClosedStatusRetentionCapacity        int      `json:"serve_closed_status_retention_capacity"`
	StatusValues                              []string `json:"status_values"`
	TerminalStates                            []string `json:"terminal_states"`
	TerminalStateFieldPresentForTerminalStatus bool     `json:"terminal_state_field_present_for_terminal_status"`
}

type errorsContract struct {
	Codes []errorCodeEntry `json:"codes"`
}

type errorCodeEntry struct {
	Code        string `json:"code"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// Capabilities builds the capability-discovery payload with the closed-run
// cache's configured capacity, matching original_source's
// rpc_capabilities_payload exactly in shape and field order.
func (s *Server) Capabilities() CapabilitiesPayload {
	statusValues := make([]string, len(RunStatusValues))
	for i, v := range RunStatusValues {
		statusValues[i] = string(v)
	}
	terminalStates := make([]string, len(TerminalStates))
	for i, v := range TerminalStates {
		terminalStates[i] = string(v)
	}
	codes := make([]errorCodeEntry, len(errorContracts))
	for i, c := range errorContracts {
		codes[i] = errorCodeEntry{Code: c.Code, Category: c.Category, Description: c.Description}
	}

	return CapabilitiesPayload{
		SchemaVersion:   CapabilitiesSchemaVersion,
		ProtocolVersion: ProtocolVersion,
		Capabilities:    Capabilities,
		Contracts: capabilityContracts{
			RunStatus: runStatusContract{
				TerminalFlagAlwaysPresent:                  true,
				ServeClosedStatusRetentionCapacity:         s.cache.capacity,
				StatusValues:                               statusValues,
				TerminalStates:                              terminalStates,
				TerminalStateFieldPresentForTerminalStatus: true,
			},
			Errors: errorsContract{Codes: codes},
		},
	}
}
