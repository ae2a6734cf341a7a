package server

// tokenWindow bounds how many recent idempotency tokens a room remembers
// for duplicate suppression.
const tokenWindow = 128

// validateCommand checks authority and legality of a host command against
// the current room state. It returns nil when the command is accepted,
// otherwise the rejection to send to the issuing client. Rejection is
// all-or-nothing; this function never mutates state.
func (r *Room) validateCommand(msg *ClientMessage) *ServerMessage {
	if msg.GetUserId() != r.hostId {
		return ErrNotAuthorized(msg.Id)
	}

	switch {
	case msg.Seek != nil:
		// Out-of-range seeks are rejected rather than clamped so
		// client bugs surface instead of silently landing elsewhere.
		pos := msg.Seek.PositionMs
		if pos < 0 {
			return ErrInvalidPosition(msg.Id)
		}
		if r.state.durationMs > 0 && pos > r.state.durationMs {
			return ErrInvalidPosition(msg.Id)
		}
	case msg.Volume != nil:
		if msg.Volume.Volume < 0.0 || msg.Volume.Volume > 1.0 {
			return ErrInvalidVolume(msg.Id)
		}
	case msg.ChangeTrack != nil:
		// Resolution happens in the read pump; an unresolved track
		// reaching this point means the id was unknown to the catalog.
		if msg.ChangeTrack.TrackId == "" || msg.track == nil {
			return ErrTrackNotFound(msg.Id)
		}
	}

	return nil
}

// seenToken reports whether the idempotency token was already applied.
func (r *Room) seenToken(token string) bool {
	if token == "" {
		return false
	}
	_, ok := r.seenTokens[token]
	return ok
}

func (r *Room) rememberToken(token string) {
	if token == "" {
		return
	}

	if len(r.tokenOrder) >= tokenWindow {
		oldest := r.tokenOrder[0]
		r.tokenOrder = r.tokenOrder[1:]
		delete(r.seenTokens, oldest)
	}

	r.seenTokens[token] = struct{}{}
	r.tokenOrder = append(r.tokenOrder, token)
}
