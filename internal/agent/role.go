package agent

// Role identifies one of the staged multi-process runtime roles Tau's
// original implementation used to separate channel coordination, branch
// planning, worker execution, and context compaction into distinct
// processes (spec.md §4's supplemented process_types.rs feature). Tau runs
// every role in-process as an agent.Loop, but still carries each role's
// runtime profile — system preamble, max_turns, and tool allowlist — so a
// caller building a role-scoped Loop gets the same defaults the staged
// design specifies.
type Role string

const (
	RoleChannel   Role = "channel"
	RoleBranch    Role = "branch"
	RoleWorker    Role = "worker"
	RoleCompactor Role = "compactor"
)

// RoleProfile is one role's runtime defaults.
type RoleProfile struct {
	SystemPreamble string
	MaxTurns       int
	ToolAllowlist  []string
}

// DefaultRoleProfile returns role's runtime defaults, grounded on
// process_types.rs's ProcessRuntimeProfile::for_type table. An unknown role
// returns the zero profile (no preamble, no allowlist, caller's MaxTurns
// unchanged).
func DefaultRoleProfile(role Role) RoleProfile {
	switch role {
	case RoleChannel:
		return RoleProfile{
			SystemPreamble: "You are the channel coordinator process.",
			MaxTurns:       8,
			ToolAllowlist:  []string{"branch", "worker", "memory_search", "memory_write", "react", "send_file"},
		}
	case RoleBranch:
		return RoleProfile{
			SystemPreamble: "You are the branch reasoning process.",
			MaxTurns:       12,
			ToolAllowlist:  []string{"memory_search", "memory_write"},
		}
	case RoleWorker:
		return RoleProfile{
			SystemPreamble: "You are the worker execution process.",
			MaxTurns:       25,
			ToolAllowlist:  []string{"memory_search", "memory_write"},
		}
	case RoleCompactor:
		return RoleProfile{
			SystemPreamble: "You are the context compactor process.",
			MaxTurns:       4,
			ToolAllowlist:  []string{"memory_search", "memory_write"},
		}
	default:
		return RoleProfile{}
	}
}

// ApplyToConfig overlays p onto cfg: p.MaxTurns replaces cfg.MaxTurns when
// positive, and p's preamble/allowlist replace cfg's. Timeouts and cost
// fields are left untouched, since those are deployment knobs, not part of
// a role's identity.
func (p RoleProfile) ApplyToConfig(cfg Config) Config {
	if p.MaxTurns > 0 {
		cfg.MaxTurns = p.MaxTurns
	}
	cfg.SystemPreamble = p.SystemPreamble
	cfg.ToolAllowlist = p.ToolAllowlist
	return cfg
}
