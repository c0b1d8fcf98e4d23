package feed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"pod-optimizer/internal/db"
	"pod-optimizer/internal/jobs"
	"pod-optimizer/internal/locks"
	"pod-optimizer/internal/models"
	"pod-optimizer/internal/timeutil"
	"pod-optimizer/pkg/tasks"
)

const (
	itunesNS = "http://www.itunes.com/dtds/podcast-1.0.dtd"

	optimizedMark  = " (Optimized)"
	deletionNotice = "This episode has been removed from the optimized feed."
)

// Reconciler merges the original feed with the episode record store into the
// outward-facing document: completed episodes point at their edited audio,
// deleted ones lose their enclosure, in-flight ones are hidden entirely, and
// newly published episodes of subscribed feeds are hidden and enqueued.
type Reconciler struct {
	HTTPClient *http.Client
	Enqueuer   tasks.TaskEnqueuer
	Ledger     *jobs.Ledger
	Locks      *locks.Manager
	Cache      *Cache
	BaseURL    string
}

// BuildFeed fetches the original feed live and returns the reconciled XML.
// A problem with a single item never fails the whole render; the item is
// passed through unmodified and logged.
func (r *Reconciler) BuildFeed(ctx context.Context, feedURL string) ([]byte, error) {
	if r.Cache != nil {
		if content, ok := r.Cache.Get(ctx, feedURL); ok {
			log.Printf("Using cached reconciled feed for %s", feedURL)
			return content, nil
		}
	}

	raw, err := r.fetch(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, fmt.Errorf("failed to parse feed %s: %w", feedURL, err)
	}
	channel := doc.FindElement("/rss/channel")
	if channel == nil {
		return nil, fmt.Errorf("feed %s is not an RSS 2.0 document", feedURL)
	}

	r.rewriteChannel(doc, channel, feedURL)

	byTitle, byGUID, err := recordIndex(feedURL)
	if err != nil {
		return nil, err
	}

	var sub *models.Subscription
	if s, err := db.GetSubscriptionByFeedURL(feedURL); err == nil {
		sub = &s
	} else if !errors.Is(err, sql.ErrNoRows) {
		log.Printf("Error loading subscription for %s: %v", feedURL, err)
	}

	// Every item is classified individually; no ordering assumption is made
	// about the publisher's item list.
	for _, item := range channel.SelectElements("item") {
		r.reconcileItem(ctx, doc, channel, item, feedURL, byTitle, byGUID, sub)
	}

	doc.Indent(2)
	content, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize reconciled feed: %w", err)
	}
	if r.Cache != nil {
		r.Cache.Set(ctx, feedURL, content)
	}
	return content, nil
}

func (r *Reconciler) fetch(ctx context.Context, feedURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", feedURL, nil)
	if err != nil {
		return nil, err
	}
	client := r.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed %s: %w", feedURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch feed %s: status %d", feedURL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (r *Reconciler) reconciledURL(feedURL string) string {
	return r.BaseURL + "/feed?url=" + url.QueryEscape(feedURL)
}

func (r *Reconciler) rewriteChannel(doc *etree.Document, channel *etree.Element, feedURL string) {
	selfURL := r.reconciledURL(feedURL)

	if title := channel.SelectElement("title"); title != nil && !strings.HasSuffix(title.Text(), optimizedMark) {
		title.SetText(title.Text() + optimizedMark)
	}
	if desc := channel.SelectElement("description"); desc != nil {
		desc.SetText(desc.Text() + " This feed has been optimized to remove unwanted content.")
	}

	for _, link := range channel.ChildElements() {
		if link.Tag == "link" && link.Space != "" && link.SelectAttrValue("rel", "") == "self" {
			link.CreateAttr("href", selfURL)
		}
	}

	if newFeed := findByLocalTag(channel, "new-feed-url"); newFeed != nil {
		newFeed.SetText(selfURL)
	} else if prefix, ok := nsPrefix(doc.Root(), itunesNS); ok {
		channel.CreateElement(prefix + ":new-feed-url").SetText(selfURL)
	}
}

func (r *Reconciler) reconcileItem(ctx context.Context, doc *etree.Document, channel, item *etree.Element, feedURL string, byTitle, byGUID map[string]models.EpisodeRecord, sub *models.Subscription) {
	titleEl := item.SelectElement("title")
	guidEl := item.SelectElement("guid")
	if titleEl == nil && guidEl == nil {
		log.Printf("Skipping item without title or guid in %s", feedURL)
		return
	}
	var title, guid string
	if titleEl != nil {
		title = strings.TrimSpace(titleEl.Text())
	}
	if guidEl != nil {
		guid = strings.TrimSpace(guidEl.Text())
	}

	record, found := byGUID[guid]
	if !found {
		record, found = byTitle[title]
	}

	if found {
		switch {
		case record.Status == db.StatusCompleted && record.OutputRef != nil:
			r.rewriteCompleted(doc, item, record)
		case record.Status == db.StatusDeleted:
			rewriteDeleted(item)
		case db.InFlight(record.Status):
			// Mid-edit audio must never reach subscribers.
			channel.RemoveChild(item)
		default:
			// failed: the original item remains available unmodified.
		}
		return
	}

	lockKey := locks.Key(feedURL, title)
	if held, err := r.Locks.IsHeld(ctx, lockKey); err != nil {
		log.Printf("Error checking lock for %q: %v", title, err)
	} else if held {
		channel.RemoveChild(item)
		return
	}

	if sub == nil {
		return
	}
	pubDate, ok := itemPubDate(item)
	if !ok || !pubDate.After(sub.EnabledAt) {
		// Episodes published before auto-processing was enabled always pass
		// through; enabling never reprocesses a back catalog.
		return
	}

	channel.RemoveChild(item)
	r.enqueueProcessing(ctx, feedURL, title)
}

func (r *Reconciler) rewriteCompleted(doc *etree.Document, item *etree.Element, record models.EpisodeRecord) {
	outputRef := *record.OutputRef

	if enclosure := item.SelectElement("enclosure"); enclosure != nil {
		enclosure.CreateAttr("url", outputRef)
	}
	if title := item.SelectElement("title"); title != nil && !strings.HasSuffix(title.Text(), optimizedMark) {
		title.SetText(title.Text() + optimizedMark)
	}

	guid := item.SelectElement("guid")
	if guid == nil {
		guid = item.CreateElement("guid")
	}
	guid.SetText(outputRef)
	guid.CreateAttr("isPermaLink", "false")

	if pubDate := item.SelectElement("pubDate"); pubDate != nil {
		pubDate.SetText(record.UpdatedAt.UTC().Format(time.RFC1123Z))
	}

	if record.DurationSeconds != nil {
		if duration := findByLocalTag(item, "duration"); duration != nil {
			duration.SetText(timeutil.FormatDuration(*record.DurationSeconds))
		} else if prefix, ok := nsPrefix(doc.Root(), itunesNS); ok {
			item.CreateElement(prefix + ":duration").SetText(timeutil.FormatDuration(*record.DurationSeconds))
		}
	}
}

func rewriteDeleted(item *etree.Element) {
	for _, enclosure := range item.SelectElements("enclosure") {
		item.RemoveChild(enclosure)
	}
	desc := item.SelectElement("description")
	if desc == nil {
		desc = item.CreateElement("description")
	}
	desc.SetText(deletionNotice)
}

func (r *Reconciler) enqueueProcessing(ctx context.Context, feedURL, title string) {
	jobID := uuid.New().String()
	if err := r.Ledger.Create(ctx, jobID, feedURL, title); err != nil {
		log.Printf("Error creating job for %q: %v", title, err)
		return
	}
	task, err := tasks.NewProcessEpisodeTask(feedURL, title, -1, jobID)
	if err != nil {
		log.Printf("Error creating process task for %q: %v", title, err)
		return
	}
	// TaskID dedupes repeated feed renders that race the worker.
	_, err = r.Enqueuer.Enqueue(task,
		asynq.TaskID("process:"+feedURL+":"+title),
		asynq.Timeout(2*time.Hour))
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		log.Printf("Error enqueuing process task for %q: %v", title, err)
		return
	}
	log.Printf("Enqueued processing for new episode %q of %s (job %s)", title, feedURL, jobID)
}

func recordIndex(feedURL string) (byTitle, byGUID map[string]models.EpisodeRecord, err error) {
	records, err := db.GetRecordsByFeed(feedURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load episode records for %s: %w", feedURL, err)
	}
	byTitle = make(map[string]models.EpisodeRecord, len(records))
	byGUID = make(map[string]models.EpisodeRecord)
	for _, record := range records {
		byTitle[record.EpisodeTitle] = record
		if record.GUID != nil && *record.GUID != "" {
			byGUID[*record.GUID] = record
		}
	}
	return byTitle, byGUID, nil
}

func itemPubDate(item *etree.Element) (time.Time, bool) {
	el := item.SelectElement("pubDate")
	if el == nil {
		return time.Time{}, false
	}
	t, err := parsePubDate(el.Text())
	if err != nil {
		log.Printf("Unparseable pubDate %q", el.Text())
		return time.Time{}, false
	}
	return t, true
}

// findByLocalTag returns the first child whose local tag matches, whatever
// namespace prefix the publisher chose.
func findByLocalTag(parent *etree.Element, tag string) *etree.Element {
	for _, child := range parent.ChildElements() {
		if child.Tag == tag {
			return child
		}
	}
	return nil
}

// nsPrefix discovers the prefix a document binds to a namespace URI.
func nsPrefix(root *etree.Element, uri string) (string, bool) {
	if root == nil {
		return "", false
	}
	for _, attr := range root.Attr {
		if attr.Space == "xmlns" && attr.Value == uri {
			return attr.Key, true
		}
	}
	return "", false
}
