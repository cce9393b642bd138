package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Category é o tipo da obra. O conjunto é fechado.
type Category string

const (
	CategoryArt          Category = "Art"
	CategoryPainting     Category = "Painting"
	CategoryDrawing      Category = "Drawing"
	CategoryHomeUse      Category = "HomeUse"
	CategoryWoodCraft    Category = "WoodCraft"
	CategoryPhotography  Category = "Photography"
	CategoryHomeDecor    Category = "Home Decor"
	CategoryJewelry      Category = "Jewelry"
	CategoryFashion      Category = "Fashion"
	CategoryCollectibles Category = "Collectibles"
	CategorySports       Category = "Sports"

	// CategoryAll só existe como filtro de vitrine; nunca é gravado num ativo.
	CategoryAll Category = "All"
)

// Categories lista as categorias aceitas na criação, na ordem exibida pela vitrine.
var Categories = []Category{
	CategoryArt, CategoryPainting, CategoryDrawing, CategoryHomeUse, CategoryWoodCraft,
	CategoryPhotography, CategoryHomeDecor, CategoryJewelry, CategoryFashion,
	CategoryCollectibles, CategorySports,
}

// Valid informa se a categoria pertence ao conjunto fechado.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory aceita a grafia da vitrine sem diferenciar maiúsculas.
func ParseCategory(raw string) (Category, bool) {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, string(CategoryAll)) {
		return CategoryAll, true
	}
	for _, known := range Categories {
		if strings.EqualFold(raw, string(known)) {
			return known, true
		}
	}
	return "", false
}

// ImageRef guarda a imagem inline ou o localizador devolvido pelo pinning.
type ImageRef struct {
	Data    []byte `json:"data,omitempty"`
	Locator string `json:"locator,omitempty"`
}

// Empty informa se não há imagem.
func (r ImageRef) Empty() bool {
	return len(r.Data) == 0 && strings.TrimSpace(r.Locator) == ""
}

// Asset representa um NFT do marketplace.
type Asset struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Category    Category        `json:"category"`
	Price       decimal.Decimal `json:"price"`
	Image       ImageRef        `json:"image"`
	Creator     string          `json:"creator"` // imutável após a criação
	Owner       string          `json:"owner"`
	ForSale     bool            `json:"for_sale"`
	ChainRef    string          `json:"chain_ref,omitempty"` // vazio para ativos só locais
	CreatedAt   time.Time       `json:"created_at"`
}

// Clone devolve uma cópia que não compartilha os bytes da imagem.
func (a Asset) Clone() Asset {
	if a.Image.Data != nil {
		a.Image.Data = append([]byte(nil), a.Image.Data...)
	}
	return a
}

// Draft são os campos informados pelo usuário no formulário de criação.
type Draft struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Category    Category `json:"category"`
	Price       string   `json:"price"` // texto decimal, ex: "0.5"
	Image       ImageRef `json:"image"`
	List        bool     `json:"list"` // coloca à venda logo após o mint
}
