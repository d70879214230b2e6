// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

// Package pipeline feeds the reconciler from the two backend intake
// paths: a periodic session poller and a push event-stream ingestor.
// Both normalize connector snapshots into observations; neither holds
// session state beyond what poll diffing needs.
package pipeline

import (
	"github.com/sessionwatch/sessionwatch/internal/connector"
	"github.com/sessionwatch/sessionwatch/internal/reconciler"
)

// Applier consumes normalized observations. The reconciler implements
// it; tests substitute recorders.
type Applier interface {
	Apply(reconciler.Observation)
	FlushPollOnly(note string)
}

// toObservation normalizes a connector snapshot. The capture timestamp
// doubles as the revision so poll and push observations of the same
// session order correctly against each other.
func toObservation(snap connector.SessionSnapshot, source reconciler.Source) reconciler.Observation {
	return reconciler.Observation{
		SessionKey:        snap.SessionKey,
		Source:            source,
		State:             snap.State,
		UserID:            snap.UserID,
		UserName:          snap.UserName,
		ItemID:            snap.ItemID,
		ItemTitle:         snap.ItemTitle,
		MediaType:         snap.MediaType,
		PositionMs:        snap.PositionMs,
		DurationMs:        snap.DurationMs,
		Transcoding:       snap.Transcoding,
		TranscodeDecision: snap.TranscodeDecision,
		Revision:          snap.CapturedAt.UnixMilli(),
		ObservedAt:        snap.CapturedAt,
	}
}
