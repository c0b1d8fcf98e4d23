package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	TypeProcessEpisode        = "episode:process"
	TypeCheckFeed             = "feed:check"
	TypeCheckAllSubscriptions = "subscriptions:check_all"
)

type ProcessEpisodeTaskPayload struct {
	FeedURL      string
	EpisodeTitle string
	EpisodeIndex int
	JobID        string
}

func NewProcessEpisodeTask(feedURL, episodeTitle string, episodeIndex int, jobID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ProcessEpisodeTaskPayload{
		FeedURL:      feedURL,
		EpisodeTitle: episodeTitle,
		EpisodeIndex: episodeIndex,
		JobID:        jobID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeProcessEpisode, payload), nil
}

type CheckFeedTaskPayload struct {
	SubscriptionID int
}

func NewCheckFeedTask(subscriptionID int) (*asynq.Task, error) {
	payload, err := json.Marshal(CheckFeedTaskPayload{SubscriptionID: subscriptionID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeCheckFeed, payload), nil
}

func NewCheckAllSubscriptionsTask() (*asynq.Task, error) {
	return asynq.NewTask(TypeCheckAllSubscriptions, nil), nil
}
