package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/TheMichaelB/newsync/internal/models"
	"github.com/TheMichaelB/newsync/internal/repository"
	"github.com/TheMichaelB/newsync/internal/storage"
	"github.com/TheMichaelB/newsync/test/testutil"
)

var collectionSizes = []int{10, 100, 1000}

func seededRepo(b *testing.B, count int) *repository.Repository {
	b.Helper()
	store, err := storage.NewLocalStore(b.TempDir(), testutil.NewTestLogger())
	if err != nil {
		b.Fatal(err)
	}
	repo := repository.New(store, "news.json", "trash.json", testutil.NewTestLogger())

	items := make([]models.ContentItem, 0, count)
	for i := 0; i < count; i++ {
		items = append(items, repository.NewItem(items, testutil.LocalDraft(fmt.Sprintf("Story %d", i)), testutil.Epoch))
	}
	if err := repo.SaveAll(context.Background(), items); err != nil {
		b.Fatal(err)
	}
	return repo
}

func BenchmarkRepositoryLoadAll(b *testing.B) {
	for _, count := range collectionSizes {
		b.Run(fmt.Sprintf("%dItems", count), func(b *testing.B) {
			repo := seededRepo(b, count)
			ctx := context.Background()

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				items, err := repo.LoadAll(ctx)
				if err != nil {
					b.Fatal(err)
				}
				if len(items) != count {
					b.Fatalf("loaded %d items, want %d", len(items), count)
				}
			}
		})
	}
}

func BenchmarkRepositoryUpdate(b *testing.B) {
	for _, count := range collectionSizes {
		b.Run(fmt.Sprintf("%dItems", count), func(b *testing.B) {
			repo := seededRepo(b, count)
			ctx := context.Background()
			items, err := repo.LoadAll(ctx)
			if err != nil {
				b.Fatal(err)
			}
			target := items[len(items)/2].LocalID

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				excerpt := fmt.Sprintf("Revision %d", i)
				if _, err := repo.Update(ctx, target, repository.Patch{Excerpt: &excerpt}); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkSlugify(b *testing.B) {
	titles := []string{
		"Bridge reopens after repairs",
		"Café opens on Market Square",
		"Über die Straße: Bürgerversammlung",
	}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = repository.Slugify(titles[i%len(titles)])
	}
}
