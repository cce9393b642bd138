package services

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
)

const defaultPinataEndpoint = "https://api.pinata.cloud"

// ContentStore fixa bytes num armazenamento de conteúdo e devolve o localizador.
type ContentStore interface {
	UploadFile(ctx context.Context, name string, data []byte) (string, error)
	UploadJSON(ctx context.Context, name string, v any) (string, error)
}

// PinataService fixa arquivos e metadados no IPFS pela API do Pinata.
type PinataService struct {
	Endpoint  string
	APIKey    string
	SecretKey string
	Client    *http.Client
}

func NewPinataService(endpoint, apiKey, secretKey string) *PinataService {
	if endpoint == "" {
		endpoint = defaultPinataEndpoint
	}
	return &PinataService{
		Endpoint:  strings.TrimRight(endpoint, "/"),
		APIKey:    apiKey,
		SecretKey: secretKey,
		Client:    &http.Client{Timeout: 60 * time.Second},
	}
}

type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
}

// UploadFile envia a imagem para pinFileToIPFS.
func (p *PinataService) UploadFile(ctx context.Context, name string, data []byte) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return "", errors.Wrap(err, "falha ao montar formulário")
	}
	if _, err := part.Write(data); err != nil {
		return "", errors.Wrap(err, "falha ao montar formulário")
	}
	if err := w.Close(); err != nil {
		return "", errors.Wrap(err, "falha ao montar formulário")
	}
	return p.pin(ctx, "/pinning/pinFileToIPFS", w.FormDataContentType(), &body)
}

// UploadJSON envia os metadados do NFT para pinJSONToIPFS.
func (p *PinataService) UploadJSON(ctx context.Context, name string, v any) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"pinataMetadata": map[string]string{"name": name},
		"pinataContent":  v,
	})
	if err != nil {
		return "", errors.Wrap(err, "falha ao serializar metadados")
	}
	return p.pin(ctx, "/pinning/pinJSONToIPFS", "application/json", bytes.NewReader(payload))
}

func (p *PinataService) pin(ctx context.Context, path, contentType string, body io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint+path, body)
	if err != nil {
		return "", errors.Wrap(err, "falha ao criar requisição ao Pinata")
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("pinata_api_key", p.APIKey)
	req.Header.Set("pinata_secret_api_key", p.SecretKey)

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "falha ao contatar o Pinata")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", errors.Newf("Pinata respondeu %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.Wrap(err, "resposta do Pinata ilegível")
	}
	if out.IpfsHash == "" {
		return "", errors.New("Pinata não devolveu IpfsHash")
	}
	log.Printf("Conteúdo fixado no IPFS: %s", out.IpfsHash)
	return "ipfs://" + out.IpfsHash, nil
}
