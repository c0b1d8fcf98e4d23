package db

import (
	"log"

	"pod-optimizer/internal/models"
)

func GetSubscriptionByID(id int) (models.Subscription, error) {
	subscription := models.Subscription{}
	err := DB.Get(&subscription, "SELECT * FROM subscriptions WHERE id = $1", id)
	return subscription, err
}

func GetSubscriptionByFeedURL(feedURL string) (models.Subscription, error) {
	subscription := models.Subscription{}
	err := DB.Get(&subscription, "SELECT * FROM subscriptions WHERE feed_url = $1", feedURL)
	return subscription, err
}

func GetAllSubscriptions() ([]models.Subscription, error) {
	var subscriptions []models.Subscription
	err := DB.Select(&subscriptions, "SELECT * FROM subscriptions ORDER BY enabled_at DESC")
	if err != nil {
		log.Printf("Error getting subscriptions: %v", err)
		return nil, err
	}
	return subscriptions, nil
}

func AddSubscription(feedURL, title string) (*models.Subscription, error) {
	query := `
		INSERT INTO subscriptions (feed_url, title)
		VALUES ($1, $2)
		RETURNING id, feed_url, title, enabled_at, last_checked_at
	`
	sub := &models.Subscription{}
	err := DB.Get(sub, query, feedURL, title)
	if err != nil {
		log.Printf("Error adding subscription for %s: %v", feedURL, err)
		return nil, err
	}
	return sub, nil
}

func DeleteSubscription(feedURL string) error {
	_, err := DB.Exec("DELETE FROM subscriptions WHERE feed_url = $1", feedURL)
	if err != nil {
		log.Printf("Error deleting subscription %s: %v", feedURL, err)
		return err
	}
	return nil
}

func TouchSubscriptionChecked(id int) error {
	_, err := DB.Exec("UPDATE subscriptions SET last_checked_at = NOW() WHERE id = $1", id)
	return err
}
