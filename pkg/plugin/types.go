package plugin

// Type represents the functional category of a plugin.
type Type string

const (
	// TypeSkillProvider plugins contribute executable skills to the orchestrator.
	TypeSkillProvider Type = "skill_provider"
	// TypeObserver plugins consume workflow events for side channels such as
	// notifications or external bookkeeping.
	TypeObserver Type = "observer"
)

// Capability expresses optional features a plugin may request access to.
type Capability string

const (
	CapabilityFilesystem Capability = "filesystem"
	CapabilityNetwork    Capability = "network"
	CapabilityChainWrite Capability = "chain_write"
)

// Well-known resource keys exposed to plugins through the execution context.
const (
	// ResourceSkillRegistry holds the *skill.Registry plugins register providers into.
	ResourceSkillRegistry = "skills"
	// ResourceEventBus holds the *workflow.Bus observer plugins subscribe to.
	ResourceEventBus = "events"
	// ResourceChainRegistry holds the chain client registry for plugins that
	// need read access to configured chains.
	ResourceChainRegistry = "chains"
)

// Info contains descriptive metadata for a plugin implementation.
type Info struct {
	ID           string
	Name         string
	Description  string
	Author       string
	Version      string
	Category     Type
	// Skills lists the skill names a skill provider plugin contributes.
	Skills       []string
	Capabilities []Capability
}

// State represents the lifecycle position of a plugin instance.
type State string

const (
	StateRegistered  State = "registered"
	StateInitialised State = "initialised"
	StateStarted     State = "started"
	StateStopped     State = "stopped"
)
