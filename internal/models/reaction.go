package models

import "time"

// Reaction is one user's emoji on one message.
type Reaction struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	MessageID uint      `gorm:"not null;uniqueIndex:idx_reaction" json:"messageId"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_reaction" json:"userId"`
	Emoji     string    `gorm:"type:varchar(32);not null;uniqueIndex:idx_reaction" json:"emoji"`
	CreatedAt time.Time `json:"createdAt"`
}

func (Reaction) TableName() string {
	return "reactions"
}

// ReactionGroup aggregates the reactions with the same emoji on a message.
type ReactionGroup struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
	Users []uint `json:"users"`
}

// GroupReactions folds reactions into groups, keeping the order in which each
// emoji first appeared.
func GroupReactions(reactions []Reaction) []ReactionGroup {
	groups := make([]ReactionGroup, 0)
	index := make(map[string]int)
	for _, r := range reactions {
		i, ok := index[r.Emoji]
		if !ok {
			i = len(groups)
			index[r.Emoji] = i
			groups = append(groups, ReactionGroup{Emoji: r.Emoji})
		}
		groups[i].Count++
		groups[i].Users = append(groups[i].Users, r.UserID)
	}
	return groups
}
