package ledger

// Ephemeral resource row.
const (
	ResourceID = iota
	ResourceName
	ResourceOwnerID
	ResourceOwnerLabel
	ResourceAccessGroupID
	ResourceDurationMinutes
	ResourceCapacity
	ResourceCreatedAt
	ResourceExpiresAt
	ResourceScopeID
	ResourceScopeLabel
	ResourceStatus
	ResourceMemberIDs // comma separated, owner first

	ResourceColumns
)

// Punishment row.
const (
	PunishmentSubjectID = iota
	PunishmentSubjectLabel
	PunishmentKind
	PunishmentReason
	PunishmentStartedAt
	PunishmentEndsAt
	PunishmentScopeID
	PunishmentScopeLabel
	PunishmentStatus
	PunishmentModeratorID

	PunishmentColumns
)

// Warning row.
const (
	WarningIssuedAt = iota
	WarningSubjectID
	WarningSubjectLabel
	WarningModeratorID
	WarningReason
	WarningSequence
	WarningScopeID
	WarningScopeLabel
	WarningStatus

	WarningColumns
)

// Moderation audit row.
const (
	AuditTimestamp = iota
	AuditAction
	AuditSubjectID
	AuditSubjectLabel
	AuditModeratorID
	AuditReason
	AuditDuration
	AuditScopeID
	AuditScopeLabel

	AuditColumns
)
