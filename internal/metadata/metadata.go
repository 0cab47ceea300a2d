/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package metadata is the boundary to the string-keyed metadata store that
// describes every queued item.
package metadata

// Ref is an opaque handle to a metadata record. Zero means "no record".
type Ref uint32

// Keys consumed by the scheduler.
const (
	KeyURL         = "URL"
	KeyName        = "Name"
	KeyArtist      = "Artist"
	KeyType        = "Type"
	KeyDuration    = "Duration"
	KeyPriority    = "Priority"
	KeyTargetTime  = "TargetTime"
	KeySegIn       = "SegIn"
	KeySegOut      = "SegOut"
	KeySegLevel    = "SegLevel"
	KeyFadeOut     = "FadeOut"
	KeyFadeTime    = "FadeTime"
	KeyTogether    = "Together"
	KeyFillTime    = "FillTime"
	KeyDefSegLevel = "def_seglevel"
	KeyDefSegOut   = "def_segout"
	KeyNoPost      = "NoPost"
	KeyNoLog       = "NoLog"
	KeyOwner       = "Owner"
	KeyMissing     = "Missing"
	KeyEffects     = "Effects"
	KeyLogID       = "logID"
)

// Store is the contract of the external metadata store.
type Store interface {
	// Create allocates a record for url with one holder.
	Create(url string) Ref
	Retain(ref Ref)
	// Release drops a holder; the record is freed when the last one goes.
	Release(ref Ref)
	Get(ref Ref, key string) (string, bool)
	// Set stores value and reports whether the record changed.
	Set(ref Ref, key, value string) bool
	Delete(ref Ref, key string)
	Revision(ref Ref) uint32
}

// ItemType is the resolved kind of a queued item.
type ItemType string

const (
	TypeEmpty    ItemType = ""
	TypeFile     ItemType = "file"
	TypeStream   ItemType = "stream"
	TypePlaylist ItemType = "playlist"
	TypeTask     ItemType = "task"
	TypeStop     ItemType = "stop"
	TypeMissing  ItemType = "missing"
)

// Playable reports whether the type can be loaded into a player slot.
func (t ItemType) Playable() bool {
	return t == TypeFile || t == TypeStream
}

// Notifier is implemented by stores that report record changes.
type Notifier interface {
	OnChange(fn func(Ref))
}
