package discourse

// Topic list/detail DTOs mirror Discourse's public JSON API response shapes
// (GET /c/{category}.json, GET /t/{id}.json).

type topicListResponse struct {
	TopicList struct {
		Topics  []topicSummary `json:"topics"`
		MoreURL string         `json:"more_topics_url"`
	} `json:"topic_list"`
}

type topicSummary struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	Slug         string `json:"slug"`
	CategoryID   int64  `json:"category_id"`
	PostsCount   int    `json:"posts_count"`
	ViewsCount   int    `json:"views"`
	LikeCount    int    `json:"like_count"`
	ReplyCount   int    `json:"reply_count"`
	CreatedAt    string `json:"created_at"`
	LastPostedAt string `json:"last_posted_at"`
	BumpedAt     string `json:"bumped_at"`
	Pinned       bool   `json:"pinned"`
	Visible      bool   `json:"visible"`
	Closed       bool   `json:"closed"`
	Archived     bool   `json:"archived"`
}

type topicDetailResponse struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	Slug       string `json:"slug"`
	PostStream struct {
		Posts []postSummary `json:"posts"`
	} `json:"post_stream"`
}

type postSummary struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	PostNumber  int    `json:"post_number"`
	Cooked      string `json:"cooked"`
	Raw         string `json:"raw"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	Version     int    `json:"version"`
	Deleted     bool   `json:"deleted_at,omitempty"`
	CanViewEdit bool   `json:"can_view_edit_history"`
	LikeCount   int    `json:"actions_summary_like_count"`
}

type revisionResponse struct {
	BodyChanges struct {
		Inline string `json:"inline"`
	} `json:"body_changes"`
	CreatedAt  string `json:"created_at"`
	EditorName string `json:"display_username"`
}

type likesResponse struct {
	Users []struct {
		Username string `json:"username"`
	} `json:"post_action_users"`
}
