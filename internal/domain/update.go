package domain

import (
	"fmt"
	"strings"
	"time"
)

// Update is a partial document update keyed by dotted field paths, the same
// shape as a MongoDB $set / $unset pair.
type Update struct {
	Sets   map[string]any
	Unsets []string
}

func NewUpdate() Update {
	return Update{Sets: make(map[string]any)}
}

func (u *Update) Set(path string, value any) {
	if u.Sets == nil {
		u.Sets = make(map[string]any)
	}
	u.Sets[path] = value
}

func (u *Update) Unset(path string) {
	u.Unsets = append(u.Unsets, path)
}

// Clone copies the update so it can be extended without touching the
// caller's maps.
func (u Update) Clone() Update {
	c := Update{Sets: make(map[string]any, len(u.Sets)+1)}
	for k, v := range u.Sets {
		c.Sets[k] = v
	}
	c.Unsets = append([]string(nil), u.Unsets...)
	return c
}

func (u Update) IsEmpty() bool {
	return len(u.Sets) == 0 && len(u.Unsets) == 0
}

// Touches reports whether the update writes the given path or anything
// beneath it.
func (u Update) Touches(path string) bool {
	for p := range u.Sets {
		if p == path || strings.HasPrefix(p, path+".") {
			return true
		}
	}
	for _, p := range u.Unsets {
		if p == path || strings.HasPrefix(p, path+".") {
			return true
		}
	}
	return false
}

// Apply writes an update onto the document in place. It understands the
// paths produced by the Room methods and rejects anything else.
func (r *Room) Apply(u Update) error {
	for path, value := range u.Sets {
		if err := r.set(path, value); err != nil {
			return err
		}
	}
	for _, path := range u.Unsets {
		if err := r.unset(path); err != nil {
			return err
		}
	}
	return nil
}

func (r *Room) set(path string, value any) error {
	parts := strings.SplitN(path, ".", 3)

	switch {
	case path == "moderator":
		m, ok := value.(*Moderator)
		if !ok {
			return fmt.Errorf("update %s: want *Moderator, got %T", path, value)
		}
		if m == nil {
			r.Moderator = nil
		} else {
			c := *m
			r.Moderator = &c
		}
	case path == "moderator.name":
		name, ok := value.(string)
		if !ok || r.Moderator == nil {
			return fmt.Errorf("update %s: cannot set on %T", path, value)
		}
		r.Moderator.Name = name
	case path == "votingDescription":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("update %s: want string, got %T", path, value)
		}
		r.VotingDescription = s
	case path == "state":
		s, ok := value.(RoomState)
		if !ok {
			return fmt.Errorf("update %s: want RoomState, got %T", path, value)
		}
		r.State = s
	case path == "lastUpdated":
		t, ok := value.(time.Time)
		if !ok {
			return fmt.Errorf("update %s: want time.Time, got %T", path, value)
		}
		r.LastUpdated = t
	case parts[0] == "participants" && len(parts) == 2:
		p, ok := value.(Participant)
		if !ok {
			return fmt.Errorf("update %s: want Participant, got %T", path, value)
		}
		if r.Participants == nil {
			r.Participants = make(map[string]Participant)
		}
		r.Participants[parts[1]] = p
	case parts[0] == "participants" && len(parts) == 3:
		if r.Participants == nil {
			r.Participants = make(map[string]Participant)
		}
		p := r.Participants[parts[1]]
		if err := p.set(parts[2], value); err != nil {
			return fmt.Errorf("update %s: %w", path, err)
		}
		r.Participants[parts[1]] = p
	default:
		return fmt.Errorf("update %s: unsupported path", path)
	}

	return nil
}

func (r *Room) unset(path string) error {
	parts := strings.SplitN(path, ".", 3)

	switch {
	case path == "moderator":
		r.Moderator = nil
	case path == "votingDescription":
		r.VotingDescription = ""
	case parts[0] == "participants" && len(parts) == 2:
		delete(r.Participants, parts[1])
	case parts[0] == "participants" && len(parts) == 3:
		p, ok := r.Participants[parts[1]]
		if !ok {
			return nil
		}
		if err := p.set(parts[2], nil); err != nil {
			return fmt.Errorf("unset %s: %w", path, err)
		}
		r.Participants[parts[1]] = p
	default:
		return fmt.Errorf("unset %s: unsupported path", path)
	}

	return nil
}

// set assigns one participant field; a nil value resets it.
func (p *Participant) set(field string, value any) error {
	switch field {
	case "name":
		s, _ := value.(string)
		p.Name = s
	case "vote":
		s, _ := value.(string)
		p.Vote = s
	case "connected":
		b, _ := value.(bool)
		p.Connected = b
	case "joinedAt":
		t, _ := value.(time.Time)
		p.JoinedAt = t
	default:
		return fmt.Errorf("unknown participant field %q", field)
	}
	return nil
}
