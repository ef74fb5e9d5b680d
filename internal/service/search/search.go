package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/elastic/go-elasticsearch/v9"

	"github.com/admosplace/food_ordering/internal/models"
)

// Index is the menu search index.
const Index = "food_items"

// Search runs a fuzzy multi-match over the menu index. Names weigh double.
func Search(ctx context.Context, es *elasticsearch.Client, index, query string, from, size int) (int64, []models.FoodItem, error) {
	body := map[string]interface{}{
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":     query,
				"fields":    []string{"name^2", "category"},
				"fuzziness": "AUTO",
			},
		},
		"from": from,
		"size": size,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return 0, nil, fmt.Errorf("encode search query: %w", err)
	}

	res, err := es.Search(
		es.Search.WithContext(ctx),
		es.Search.WithIndex(index),
		es.Search.WithBody(&buf),
	)
	if err != nil {
		return 0, nil, fmt.Errorf("search %q: %w", query, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return 0, nil, fmt.Errorf("search %q: %s: %s", query, res.Status(), raw)
	}

	var r struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source models.FoodItem `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return 0, nil, err
	}

	items := make([]models.FoodItem, len(r.Hits.Hits))
	for i, hit := range r.Hits.Hits {
		items[i] = hit.Source
	}
	return r.Hits.Total.Value, items, nil
}

// IndexItem writes a food item document. Callers treat failures as non-fatal:
// the database stays the source of truth.
func IndexItem(ctx context.Context, es *elasticsearch.Client, index string, item *models.FoodItem) error {
	doc := map[string]any{
		"id":           item.ID,
		"name":         item.Name,
		"price":        item.Price,
		"category":     item.Category.Name,
		"portions":     item.Portions,
		"availability": item.IsAvailable(),
		"image_url":    item.ImageURL,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(doc); err != nil {
		return fmt.Errorf("encode food item %d: %w", item.ID, err)
	}

	res, err := es.Index(index, &buf,
		es.Index.WithContext(ctx),
		es.Index.WithDocumentID(strconv.FormatUint(uint64(item.ID), 10)),
	)
	if err != nil {
		return fmt.Errorf("index food item %d: %w", item.ID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return fmt.Errorf("index food item %d: %s: %s", item.ID, res.Status(), raw)
	}
	return nil
}

// DeleteItem removes a food item document. Missing documents are fine.
func DeleteItem(ctx context.Context, es *elasticsearch.Client, index string, itemID uint) error {
	res, err := es.Delete(index, strconv.FormatUint(uint64(itemID), 10),
		es.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("delete food item %d from index: %w", itemID, err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != 404 {
		raw, _ := io.ReadAll(res.Body)
		return fmt.Errorf("delete food item %d from index: %s: %s", itemID, res.Status(), raw)
	}
	return nil
}
