package discourse

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"governanceagg/persist"
	"governanceagg/store"
)

const discourseTimeLayout = time.RFC3339

// Crawler walks one forum's governance-discussion category: topics, their
// posts, edit revisions for edited posts, and likers for liked posts.
type Crawler struct {
	client       *Client
	db           *gorm.DB
	store        *persist.Store
	forum        *store.Forum
	categorySlug string
}

// NewCrawler builds a Crawler bound to one forum.
func NewCrawler(db *gorm.DB, forum *store.Forum, categorySlug string, requestsPerMinute int) *Crawler {
	return &Crawler{
		client:       NewClient(forum.BaseURL, requestsPerMinute),
		db:           db,
		store:        persist.NewStore(db),
		forum:        forum,
		categorySlug: categorySlug,
	}
}

// Crawl fetches every topic page in the governance category, then each
// topic's posts, revisions, and likers.
func (c *Crawler) Crawl(ctx context.Context) error {
	page := 0
	for {
		var resp topicListResponse
		path := fmt.Sprintf("/c/%s.json?page=%d", c.categorySlug, page)
		if err := c.client.getJSON(ctx, path, &resp); err != nil {
			return fmt.Errorf("discourse: list topics page %d: %w", page, err)
		}
		if len(resp.TopicList.Topics) == 0 {
			break
		}

		for _, summary := range resp.TopicList.Topics {
			firstSeen, topic, err := c.upsertTopic(ctx, summary)
			if err != nil {
				return fmt.Errorf("discourse: upsert topic %d: %w", summary.ID, err)
			}
			if err := c.crawlPosts(ctx, topic); err != nil {
				return fmt.Errorf("discourse: crawl posts for topic %d: %w", summary.ID, err)
			}
			if firstSeen {
				if _, err := c.store.Enqueue(ctx, store.JobTypeDiscussionFetch, store.JSONMap{
					"topic_id":    topic.ID.String(),
					"external_id": summary.ID,
				}); err != nil {
					return fmt.Errorf("discourse: enqueue discussion job: %w", err)
				}
			}
		}

		if resp.TopicList.MoreURL == "" {
			break
		}
		page++
	}
	return nil
}

func (c *Crawler) upsertTopic(ctx context.Context, summary topicSummary) (bool, *store.Topic, error) {
	var existing store.Topic
	err := c.db.WithContext(ctx).Where("forum_id = ? AND external_id = ?", c.forum.ID, summary.ID).First(&existing).Error
	firstSeen := err == gorm.ErrRecordNotFound

	topic := store.Topic{
		ID:           existing.ID,
		ForumID:      c.forum.ID,
		ExternalID:   summary.ID,
		Title:        summary.Title,
		Slug:         summary.Slug,
		CategoryID:   summary.CategoryID,
		PostsCount:   summary.PostsCount,
		ViewsCount:   summary.ViewsCount,
		LikesCount:   summary.LikeCount,
		ReplyCount:   summary.ReplyCount,
		CreatedAt:    parseTime(summary.CreatedAt),
		LastPostedAt: parseTime(summary.LastPostedAt),
		BumpedAt:     parseTime(summary.BumpedAt),
		Pinned:       summary.Pinned,
		Visible:      summary.Visible,
		Closed:       summary.Closed,
		Archived:     summary.Archived,
	}
	if topic.ID == uuid.Nil {
		topic.ID = uuid.New()
	}

	res := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "forum_id"}, {Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "slug", "category_id", "posts_count", "views_count", "likes_count",
			"reply_count", "last_posted_at", "bumped_at", "pinned", "visible", "closed", "archived", "updated_at",
		}),
	}).Create(&topic)
	if res.Error != nil {
		return false, nil, res.Error
	}
	return firstSeen, &topic, nil
}

func (c *Crawler) crawlPosts(ctx context.Context, topic *store.Topic) error {
	var detail topicDetailResponse
	if err := c.client.getJSON(ctx, fmt.Sprintf("/t/%d.json", topic.ExternalID), &detail); err != nil {
		return err
	}

	for _, ps := range detail.PostStream.Posts {
		author, err := c.upsertUser(ctx, ps.Username)
		if err != nil {
			return err
		}

		var existing store.Post
		lookupErr := c.db.WithContext(ctx).Where("forum_id = ? AND external_id = ?", c.forum.ID, ps.ID).First(&existing).Error

		deleted := ps.Deleted || ps.Raw == store.PostDeletedMarker
		var cooked *string
		if !deleted {
			cookedValue := ps.Cooked
			cooked = &cookedValue
		}

		post := store.Post{
			ID:          existing.ID,
			ForumID:     c.forum.ID,
			ExternalID:  ps.ID,
			TopicID:     topic.ID,
			PostNumber:  ps.PostNumber,
			AuthorID:    author.ID,
			Cooked:      cooked,
			Raw:         ps.Raw,
			EditCount:   ps.Version - 1,
			Deleted:     deleted,
			CanViewEdit: ps.CanViewEdit,
			Version:     ps.Version,
			CreatedAt:   parseTime(ps.CreatedAt),
		}
		if post.ID == uuid.Nil {
			post.ID = uuid.New()
		}
		if lookupErr == nil {
			post.CreatedAt = existing.CreatedAt
		}

		res := c.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "forum_id"}, {Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"post_number", "author_id", "cooked", "raw", "edit_count", "deleted", "can_view_edit", "version", "updated_at",
			}),
		}).Create(&post)
		if res.Error != nil {
			return res.Error
		}

		if ps.Version > 1 {
			if err := c.crawlRevisions(ctx, &post, ps.Version); err != nil {
				return err
			}
		}
		if ps.LikeCount > 0 {
			if err := c.crawlLikes(ctx, &post); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Crawler) crawlRevisions(ctx context.Context, post *store.Post, latestVersion int) error {
	for version := 2; version <= latestVersion; version++ {
		var existing store.Revision
		if err := c.db.WithContext(ctx).Where("post_id = ? AND version = ?", post.ID, version).First(&existing).Error; err == nil {
			continue
		}

		var rev revisionResponse
		path := fmt.Sprintf("/posts/%d/revisions/%d.json", post.ExternalID, version)
		if err := c.client.getJSON(ctx, path, &rev); err != nil {
			return err
		}

		var editorID *uuid.UUID
		if rev.EditorName != "" {
			editor, err := c.upsertUser(ctx, rev.EditorName)
			if err != nil {
				return err
			}
			editorID = &editor.ID
		}

		row := store.Revision{
			ID:       uuid.New(),
			PostID:   post.ID,
			Version:  version,
			Body:     rev.BodyChanges.Inline,
			EditedAt: parseTime(rev.CreatedAt),
			EditorID: editorID,
		}
		if err := c.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

func (c *Crawler) crawlLikes(ctx context.Context, post *store.Post) error {
	var resp likesResponse
	path := fmt.Sprintf("/post_action_users.json?id=%d&post_action_type_id=2", post.ExternalID)
	if err := c.client.getJSON(ctx, path, &resp); err != nil {
		return err
	}

	for _, u := range resp.Users {
		user, err := c.upsertUser(ctx, u.Username)
		if err != nil {
			return err
		}
		like := store.Like{ID: uuid.New(), PostID: post.ID, UserID: user.ID}
		if err := c.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&like).Error; err != nil {
			return err
		}
	}
	return nil
}

// upsertUser records a Discourse username as a minimal local record, reusing the
// Voter table's identity shape so on-chain and forum identities stay in one
// addressable namespace keyed by a stable string handle instead of an
// on-chain address.
func (c *Crawler) upsertUser(ctx context.Context, username string) (*store.Voter, error) {
	handle := "discourse:" + username
	var user store.Voter
	err := c.db.WithContext(ctx).Where("address = ?", handle).First(&user).Error
	if err == nil {
		return &user, nil
	}
	user = store.Voter{ID: uuid.New(), Address: handle}
	if err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoNothing: true,
	}).Create(&user).Error; err != nil {
		return nil, err
	}
	if err := c.db.WithContext(ctx).Where("address = ?", handle).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(discourseTimeLayout, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
