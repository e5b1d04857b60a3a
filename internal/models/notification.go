package models

import "time"

// NotificationKind names the review events fanned out to interested users.
type NotificationKind string

const (
	NotificationUpload          NotificationKind = "upload"
	NotificationApprove         NotificationKind = "approve"
	NotificationRequestRevision NotificationKind = "request_revision"
	NotificationComment         NotificationKind = "comment"
	NotificationDelete          NotificationKind = "delete"
)

// Notification is a persisted review event awaiting delivery by an external channel.
type Notification struct {
	ID        string           `db:"id" json:"id"`
	Kind      NotificationKind `db:"kind" json:"kind"`
	ActorID   string           `db:"actor_id" json:"actorId"`
	ActorName string           `db:"actor_name" json:"actorName"`
	SubjectID string           `db:"subject_id" json:"subjectId"`
	ClassID   string           `db:"class_id" json:"classId"`
	Summary   string           `db:"summary" json:"summary"`
	CreatedAt time.Time        `db:"created_at" json:"createdAt"`
}
