package extraction

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/deepresearch/backend/pkg/logger"
)

const DefaultConcurrency = 5

// ExtractBatch extracts every URL with a fixed pool of workers pulling from
// a shared queue. Every input URL gets a map entry; failures map to nil.
func (e *Extractor) ExtractBatch(ctx context.Context, urls []string, concurrency int) map[string]*Content {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if concurrency > len(urls) {
		concurrency = len(urls)
	}

	results := make(map[string]*Content, len(urls))
	var mu sync.Mutex

	queue := make(chan string)
	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range queue {
				content, err := e.Extract(ctx, u)
				if err != nil {
					logger.Debug("Extraction failed", zap.String("url", u), zap.Error(err))
					content = nil
				}
				mu.Lock()
				results[u] = content
				mu.Unlock()
			}
		}()
	}

	for _, u := range urls {
		mu.Lock()
		_, seen := results[u]
		if !seen {
			results[u] = nil
		}
		mu.Unlock()
		if seen {
			continue
		}
		select {
		case queue <- u:
		case <-ctx.Done():
		}
	}
	close(queue)
	wg.Wait()

	return results
}
