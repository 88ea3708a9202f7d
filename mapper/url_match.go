package mapper

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	"governanceagg/observability"
	"governanceagg/store"
)

// MatchByURL is pass 1 of the grouping pipeline: a proposal carrying a
// discussion_url that points directly at one of the DAO's own forum topics
// is grouped with that topic without needing any embedding, the cheapest
// and most certain match available.
func (m *Mapper) MatchByURL(ctx context.Context, daoID uuid.UUID) (int, error) {
	var proposals []store.Proposal
	if err := m.db.WithContext(ctx).
		Where("dao_id = ? AND discussion_url IS NOT NULL", daoID).Find(&proposals).Error; err != nil {
		return 0, fmt.Errorf("mapper: load proposals: %w", err)
	}

	var forum store.Forum
	hasForum := m.db.WithContext(ctx).Where("dao_id = ?", daoID).First(&forum).Error == nil

	matched := 0
	for _, p := range proposals {
		if !hasForum || p.DiscussionURL == nil {
			continue
		}
		if existing, err := m.groupContaining(ctx, daoID, store.GroupItemProposal, p.ExternalID); err == nil && existing != nil {
			continue
		}
		topicExternalID, ok := extractTopicID(*p.DiscussionURL, forum.BaseURL)
		if !ok {
			continue
		}
		var topic store.Topic
		if err := m.db.WithContext(ctx).Where("forum_id = ? AND external_id = ?", forum.ID, topicExternalID).First(&topic).Error; err != nil {
			continue
		}
		if err := m.attachGroup(ctx, daoID, store.GroupItem{Kind: store.GroupItemProposal, ExternalID: p.ExternalID, GovernorRef: &p.GovernorID, Name: p.Name},
			store.GroupItem{Kind: store.GroupItemTopic, ExternalID: strconv.FormatInt(topic.ExternalID, 10), ForumRef: &forum.ID, Name: topic.Title}); err != nil {
			return matched, err
		}
		observability.Mapper().RecordURLMatch()
		matched++
	}
	return matched, nil
}

// extractTopicID parses a Discourse topic URL of the shape
// base/t/slug/123 or base/t/slug/123/4 and returns the numeric topic id.
func extractTopicID(discussionURL, forumBaseURL string) (int64, bool) {
	if forumBaseURL == "" || !strings.HasPrefix(discussionURL, forumBaseURL) {
		return 0, false
	}
	parsed, err := url.Parse(discussionURL)
	if err != nil {
		return 0, false
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i, seg := range segments {
		if seg == "t" && i+2 < len(segments) {
			if id, err := strconv.ParseInt(segments[i+2], 10, 64); err == nil {
				return id, true
			}
		}
	}
	return 0, false
}

// groupContaining finds the existing ProposalGroup that already references
// the given item, if any.
func (m *Mapper) groupContaining(ctx context.Context, daoID uuid.UUID, kind store.GroupItemKind, externalID string) (*store.ProposalGroup, error) {
	var groups []store.ProposalGroup
	if err := m.db.WithContext(ctx).Where("dao_id = ?", daoID).Find(&groups).Error; err != nil {
		return nil, err
	}
	for i := range groups {
		for _, item := range groups[i].Items {
			if item.Kind == kind && item.ExternalID == externalID {
				return &groups[i], nil
			}
		}
	}
	return nil, nil
}

// attachGroup either extends an existing group containing one of the two
// items, or creates a new one joining them.
func (m *Mapper) attachGroup(ctx context.Context, daoID uuid.UUID, items ...store.GroupItem) error {
	var existing *store.ProposalGroup
	for _, item := range items {
		group, err := m.groupContaining(ctx, daoID, item.Kind, item.ExternalID)
		if err != nil {
			return fmt.Errorf("mapper: find existing group: %w", err)
		}
		if group != nil {
			existing = group
			break
		}
	}

	if existing != nil {
		for _, item := range items {
			found := false
			for _, have := range existing.Items {
				if have.Kind == item.Kind && have.ExternalID == item.ExternalID {
					found = true
					break
				}
			}
			if !found {
				existing.Items = append(existing.Items, item)
			}
		}
		return m.db.WithContext(ctx).Model(&store.ProposalGroup{}).Where("id = ?", existing.ID).
			Update("items", existing.Items).Error
	}

	group := store.ProposalGroup{ID: uuid.New(), DAOID: daoID, Items: store.GroupItemList(items)}
	return m.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&group).Error
}
