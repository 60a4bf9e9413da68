package forum

// ThreadOutcome reports what ProcessThread did with an extracted thread.
type ThreadOutcome string

const (
	// ThreadOutcomeInserted marks a thread stored for the first time.
	ThreadOutcomeInserted ThreadOutcome = "inserted"
	// ThreadOutcomeUpdated marks a thread whose metadata and images were replaced.
	ThreadOutcomeUpdated ThreadOutcome = "updated"
	// ThreadOutcomeUnchanged marks a thread whose last activity matches the store.
	ThreadOutcomeUnchanged ThreadOutcome = "unchanged"
	// ThreadOutcomeStale marks an observation older than the stored last activity.
	ThreadOutcomeStale ThreadOutcome = "stale"
)

// threadDecision is the write plan for one extracted thread.
type threadDecision struct {
	outcome ThreadOutcome
	thread  *Thread
	images  []Image
}

func resolveThread(existing *Thread, extracted ExtractedThread) threadDecision {
	switch {
	case existing == nil:
		thread := threadFromExtracted(extracted)
		return threadDecision{
			outcome: ThreadOutcomeInserted,
			thread:  &thread,
			images:  imagesFromURLs(thread.TopicID, extracted.Images),
		}
	case existing.LastUpdatedAt.Equal(extracted.LastUpdated):
		return threadDecision{outcome: ThreadOutcomeUnchanged}
	case extracted.LastUpdated.Before(existing.LastUpdatedAt):
		return threadDecision{outcome: ThreadOutcomeStale}
	}

	thread := threadFromExtracted(extracted)
	return threadDecision{
		outcome: ThreadOutcomeUpdated,
		thread:  &thread,
		images:  imagesFromURLs(thread.TopicID, extracted.Images),
	}
}

func threadFromExtracted(extracted ExtractedThread) Thread {
	return Thread{
		TopicID:       extracted.TopicID.Int64(),
		Title:         extracted.Title,
		URL:           extracted.URL,
		Creator:       extracted.Creator,
		CreatedAt:     extracted.Created.UTC(),
		LastUpdatedAt: extracted.LastUpdated.UTC(),
		Category:      extracted.Category,
		BodyHTML:      extracted.BodyHTML,
	}
}

func imagesFromURLs(topicID int64, urls []string) []Image {
	images := make([]Image, 0, len(urls))
	for position, url := range urls {
		images = append(images, Image{
			TopicID:  topicID,
			URL:      url,
			Position: position,
		})
	}
	return images
}
