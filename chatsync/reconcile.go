package chatsync

import "sort"

// Reconcile merges the cached chat list with the authoritative remote
// list into one unified view. Pure and idempotent: reconciling its own
// output (as the new cache) against the same remote input yields an
// identical result.
//
// Rules per chat id (union of both sources):
//   - Remote scalar metadata wins (title, folder, pin, persona, model,
//     search flag): the remote store is authoritative for settings.
//   - Messages: cached messages win while the remote copy is empty (the
//     backend lazy-loads history); when both sides carry messages they
//     are unioned by id with remote winning per id, so a local-only
//     message is never dropped by a metadata refresh.
//   - MessagesLoaded: true if either side flags it, or either side has a
//     non-empty message array (a non-empty array implies a prior load).
//   - LastUpdated: max of both sides and the newest resolved message, so
//     stale remote metadata cannot reorder a chat with fresher local
//     activity.
//   - HasUnsyncedChanges: true if the tracker holds a non-empty entry,
//     the chat has no remote record at all, or the cache carries message
//     ids a non-empty remote copy does not.
//
// pending is the unsynced-change tracker snapshot (chat id -> write ids).
func Reconcile(cached, remote []ChatSession, pending map[string][]string) []ChatSession {
	cachedByID := make(map[string]ChatSession, len(cached))
	for _, c := range cached {
		cachedByID[c.ID] = c
	}

	remoteByID := make(map[string]ChatSession, len(remote))
	for _, r := range remote {
		remoteByID[r.ID] = r
	}

	ids := make([]string, 0, len(cachedByID)+len(remoteByID))
	for id := range remoteByID {
		ids = append(ids, id)
	}
	for id := range cachedByID {
		if _, ok := remoteByID[id]; !ok {
			ids = append(ids, id)
		}
	}

	merged := make([]ChatSession, 0, len(ids))
	for _, id := range ids {
		c, hasCached := cachedByID[id]
		r, hasRemote := remoteByID[id]

		var out ChatSession
		switch {
		case hasRemote && hasCached:
			out = mergeChat(c, r)
		case hasRemote:
			out = r
			out.Messages = copyMessages(r.Messages)
		default:
			out = c
			out.Messages = copyMessages(c.Messages)
		}

		sortMessages(out.Messages)

		out.MessagesLoaded = resolveLoaded(c, r, out.Messages)

		out.LastUpdated = maxInt64(out.LastUpdated, newestTimestamp(out.Messages))
		if hasCached && c.LastUpdated > out.LastUpdated {
			out.LastUpdated = c.LastUpdated
		}

		out.HasUnsyncedChanges = len(pending[id]) > 0 ||
			!hasRemote ||
			(hasCached && hasLocalOnlyMessages(c.Messages, r.Messages))

		merged = append(merged, out)
	}

	// Newest activity first. Ties break on id so the ordering, and with
	// it the idempotence property, is deterministic.
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].LastUpdated != merged[j].LastUpdated {
			return merged[i].LastUpdated > merged[j].LastUpdated
		}
		return merged[i].ID < merged[j].ID
	})

	return merged
}

// mergeChat combines one chat present on both sides: remote scalars,
// message union with remote winning per id.
func mergeChat(cached, remote ChatSession) ChatSession {
	out := remote

	switch {
	case len(remote.Messages) == 0:
		out.Messages = copyMessages(cached.Messages)
	case len(cached.Messages) == 0:
		out.Messages = copyMessages(remote.Messages)
	default:
		out.Messages = copyMessages(remote.Messages)
		remoteIDs := messageIDSet(remote.Messages)
		for _, m := range cached.Messages {
			if _, ok := remoteIDs[m.ID]; !ok {
				out.Messages = append(out.Messages, m)
			}
		}
	}

	return out
}

// resolveLoaded computes the merged MessagesLoaded flag.
func resolveLoaded(cached, remote ChatSession, resolved []Message) bool {
	return cached.MessagesLoaded || remote.MessagesLoaded || len(resolved) > 0
}

// hasLocalOnlyMessages reports whether cached holds message ids that
// remote lacks. An empty remote array is no evidence of divergence: the
// chat list endpoint omits message bodies, so empty means "not loaded
// here", not "the server has none".
func hasLocalOnlyMessages(cached, remote []Message) bool {
	if len(cached) == 0 || len(remote) == 0 {
		return false
	}

	remoteIDs := messageIDSet(remote)
	for i := range cached {
		if _, ok := remoteIDs[cached[i].ID]; !ok {
			return true
		}
	}

	return false
}

func copyMessages(msgs []Message) []Message {
	if len(msgs) == 0 {
		return nil
	}

	out := make([]Message, len(msgs))
	copy(out, msgs)

	return out
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}

	return b
}
