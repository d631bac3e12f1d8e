package service

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// ImportRowError reports why one spreadsheet row was skipped
type ImportRowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// ImportResult summarizes a product import
type ImportResult struct {
	Created []int64          `json:"created"`
	Errors  []ImportRowError `json:"errors"`
}

// ImportProducts creates products from the first sheet of an .xlsx workbook.
// Columns: name, category slug, price (major units), stock, description.
// The first row is a header. Invalid rows are reported and skipped.
func (s *CatalogService) ImportProducts(ctx context.Context, r io.Reader) (*ImportResult, error) {
	xlsx, err := excelize.OpenReader(r)
	if err != nil {
		return nil, Validation("invalid Excel file")
	}
	defer xlsx.Close()

	sheets := xlsx.GetSheetList()
	if len(sheets) == 0 {
		return nil, Validation("workbook has no sheets")
	}

	rows, err := xlsx.GetRows(sheets[0])
	if err != nil {
		return nil, Internal("failed to read sheet", err)
	}

	result := &ImportResult{Created: []int64{}, Errors: []ImportRowError{}}
	categories := make(map[string]*int64)

	for i, row := range rows {
		if i == 0 || blankRow(row) {
			continue
		}
		rowNum := i + 1

		input, err := s.importRow(ctx, row, categories)
		if err != nil {
			result.Errors = append(result.Errors, ImportRowError{Row: rowNum, Error: err.Error()})
			continue
		}

		product, err := s.CreateProduct(ctx, *input)
		if err != nil {
			result.Errors = append(result.Errors, ImportRowError{Row: rowNum, Error: err.Error()})
			continue
		}
		result.Created = append(result.Created, product.ID)
	}

	s.logger.Info("Product import finished",
		zap.Int("created", len(result.Created)),
		zap.Int("errors", len(result.Errors)))
	return result, nil
}

func (s *CatalogService) importRow(ctx context.Context, row []string, categories map[string]*int64) (*ProductInput, error) {
	cell := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	in := &ProductInput{Name: cell(0), Description: cell(4)}
	if in.Name == "" {
		return nil, fmt.Errorf("name is required")
	}

	price, err := decimal.NewFromString(cell(2))
	if err != nil || price.IsNegative() {
		return nil, fmt.Errorf("invalid price %q", cell(2))
	}
	in.Price = price.Shift(2).Round(0).IntPart()

	if stock := cell(3); stock != "" {
		n, err := strconv.Atoi(stock)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid stock %q", stock)
		}
		in.StockQuantity = n
	}

	if slug := strings.ToLower(cell(1)); slug != "" {
		id, ok := categories[slug]
		if !ok {
			category, err := s.repo.GetCategoryBySlug(ctx, slug)
			if err != nil {
				return nil, fmt.Errorf("unknown category %q", slug)
			}
			id = &category.ID
			categories[slug] = id
		}
		in.CategoryID = id
	}
	return in, nil
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
