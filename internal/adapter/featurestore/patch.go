package featurestore

import (
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/recrank/internal/domain"
)

// luaViewerPatchScript atomically bumps a viewer's pending behaviorScore
// delta and reports whether the prior lastActive was recent enough to
// promote activity one step, mirroring the read-modify-write-in-one-round-trip
// pattern used for rate-limit token buckets elsewhere in this codebase.
const luaViewerPatchScript = `
local key = KEYS[1]
local delta = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local last_active = redis.call("HGET", key, "last_active")
local bumped = 0
if last_active and tonumber(last_active) ~= nil then
  if (now - tonumber(last_active)) < 3600 then
    bumped = 1
  end
end

local score = redis.call("HINCRBYFLOAT", key, "behavior_score", delta)
redis.call("HSET", key, "last_active", now, "activity_bumped", bumped)
redis.call("EXPIRE", key, ttl)

return { score, bumped }
`

// PatchViewerOnIngest applies spec.md §4.3's incremental patch: bump
// behaviorScore, update lastActive, and possibly promote activity one step.
// The patch lands in a side hash and is merged into the full record the next
// time it is loaded from L2; it is best-effort and swallowed by the caller on
// failure since full recomputation reconciles on the next scheduled run.
func (s *Store) PatchViewerOnIngest(ctx domain.Context, viewerID string, action domain.ActionKind, at time.Time) error {
	if s.redis == nil {
		return nil
	}
	weight, ok := domain.ActionWeights[action]
	if !ok {
		weight = 1
	}
	delta := 0.1 * weight

	ttl := int(s.cfg.ViewerTTL.Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	_, err := s.patchScript.Run(ctx, s.redis, []string{patchKey(viewerID)}, delta, at.Unix(), ttl).Result()
	if err != nil {
		return fmt.Errorf("op=featurestore.PatchViewerOnIngest: %w", err)
	}
	s.InvalidateViewer(viewerID)
	return nil
}

// applyViewerPatch merges a pending patch hash into a freshly loaded full
// record. Called once per L2 load; the merged record is then cached in L1
// until invalidated, matching the "L1 hits short-circuit" read contract.
func applyViewerPatch(vf *domain.ViewerFeatures, cmd *redis.MapStringStringCmd) {
	if cmd == nil {
		return
	}
	fields, err := cmd.Result()
	if err != nil || len(fields) == 0 {
		return
	}
	if raw, ok := fields["behavior_score"]; ok {
		if delta, err := strconv.ParseFloat(raw, 64); err == nil {
			vf.BehaviorScore = clamp(vf.BehaviorScore+delta, 0, 10)
		}
	}
	if raw, ok := fields["last_active"]; ok {
		if sec, err := strconv.ParseInt(raw, 10, 64); err == nil {
			t := time.Unix(sec, 0)
			if t.After(vf.LastActive) {
				vf.LastActive = t
			}
		}
	}
	if raw, ok := fields["activity_bumped"]; ok && raw == "1" {
		vf.Activity = bumpActivity(vf.Activity)
	}
}
