package resource

// DeltaKind names a correcting write the reconcilers can issue.
type DeltaKind string

const (
	DeltaConnect    DeltaKind = "connect"
	DeltaSetLimit   DeltaKind = "set_limit"
	DeltaSetPoolID  DeltaKind = "set_pool_id"
	DeltaSetHook    DeltaKind = "set_hook"
	DeltaGrantRole  DeltaKind = "grant_role"
	DeltaRevokeRole DeltaKind = "revoke_role"
)

// Delta is one observed divergence between desired and on-chain state.
// Deltas are recomputed every run and never persisted.
type Delta struct {
	Kind   DeltaKind `json:"kind"`
	Target Key       `json:"target"`
	Args   string    `json:"args"`
}
