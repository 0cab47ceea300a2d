/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package queue

import (
	"github.com/friendsincode/grimnir_automation/internal/config"
	"github.com/friendsincode/grimnir_automation/internal/metadata"
	"github.com/friendsincode/grimnir_automation/internal/player"
)

// forcedExact reports whether next must fade in exactly at its target.
func forcedExact(cur, next metadata.Item) bool {
	return next.Priority > 9 && next.HasTarget() && next.Priority > cur.Priority
}

// computeSegue builds the hookup from cur into the standing-by next.
func computeSegue(cur, next *view, policy config.Policy) player.Segue {
	sg := player.Segue{Next: next.slot.Index, Revision: cur.item.Revision}

	if cur.item.SegOut <= 0 && next.item.SegIn <= 0 {
		level := cur.item.SegLevel
		if level == 0 {
			level = cur.item.DefSegLevel
		}
		if level == 0 {
			level = policy.DefaultSegLevel
		}
		sg.SegLevel = level
	}

	fade := cur.item.FadeTime
	if fade == 0 {
		fade = policy.DefaultFadeTime
	}

	if forcedExact(cur.item, next.item) {
		pos := next.item.TargetTime - cur.e.start
		played := 0.0
		if cur.playing() {
			played = cur.slot.Pos
		}
		sg.SegLevel = 0
		if pos <= played {
			sg.PosSeg = played
			sg.FadePos = played
			sg.FadeTime = -1
			return sg
		}
		sg.PosSeg = pos
		sg.FadePos = pos
		sg.FadeTime = fade
		return sg
	}

	sg.FadeTime = fade
	sg.PosSeg = max(0, cur.segOut-next.item.SegIn)
	if cur.item.FadeOut > 0 {
		sg.FadePos = cur.item.FadeOut
	}
	return sg
}
