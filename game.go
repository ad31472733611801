package main

// messagesPerTurn is the number of posts a participant may make while
// holding the turn before it advances (or, alone, resets).
const messagesPerTurn = 3

// GameState is the single shared source of truth for the session: who is
// in the turn rotation, whose turn it is, and everything said so far.
// It is owned by the Hub and only ever mutated from the hub's run loop,
// with hub.mu held.
type GameState struct {
	turnOrder   []string
	currentTurn int
	messages    []string
	active      bool
}

// currentPlayer resolves the turn pointer to a name, or "" when the
// session is empty. Always derived, never stored.
func (g *GameState) currentPlayer() string {
	if len(g.turnOrder) == 0 {
		return ""
	}
	return g.turnOrder[g.currentTurn]
}

// join adds name to the end of the turn rotation and reports whether the
// rotation changed. A name already present is left alone, so reconnecting
// under the same name never produces a duplicate slot.
func (g *GameState) join(name string) bool {
	for _, n := range g.turnOrder {
		if n == name {
			g.active = true
			return false
		}
	}

	g.turnOrder = append(g.turnOrder, name)
	if len(g.turnOrder) == 1 {
		g.currentTurn = 0
	}
	g.active = true

	return true
}

// appendMessage records a rendered chat line and returns it.
func (g *GameState) appendMessage(name, content string) string {
	line := name + ": " + content
	g.messages = append(g.messages, line)
	return line
}

// advanceTurn moves the turn pointer to the next participant in rotation.
// With a single participant there is nowhere to advance to, so the
// pointer stays put; the caller resets quotas either way.
func (g *GameState) advanceTurn() {
	if len(g.turnOrder) < 2 {
		return
	}
	g.currentTurn = (g.currentTurn + 1) % len(g.turnOrder)
}

// leave removes name from the turn rotation and repairs the turn pointer.
// Removing an entry at or before the pointer shifts everything after it
// down a slot, so the pointer is decremented (clamped to zero) to keep it
// on the same logical successor rather than silently handing the turn to
// whoever slid into the vacated index.
func (g *GameState) leave(name string) bool {
	idx := -1
	for i, n := range g.turnOrder {
		if n == name {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false
	}

	g.turnOrder = append(g.turnOrder[:idx], g.turnOrder[idx+1:]...)

	switch {
	case len(g.turnOrder) == 0:
		g.currentTurn = 0
		g.active = false
	case idx <= g.currentTurn && g.currentTurn > 0:
		g.currentTurn--
	}

	return true
}

// postError classifies why a post was rejected.
type postError int

const (
	postOK postError = iota
	postNotYourTurn
	postQuotaExhausted
)

// checkPost decides whether holder of name, having already used `used`
// posts this turn, may post now. A name absent from the rotation is never
// the current player and so fails the turn check.
func (g *GameState) checkPost(name string, used int) postError {
	if g.currentPlayer() != name {
		return postNotYourTurn
	}
	if used >= messagesPerTurn {
		return postQuotaExhausted
	}
	return postOK
}
