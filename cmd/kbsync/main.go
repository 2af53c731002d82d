package main

import (
	"flag"
	"log"
	"net/http"
	"os"

	"github.com/agentworkforce/kbsync/internal/config"
	"github.com/agentworkforce/kbsync/internal/httpapi"
	"github.com/agentworkforce/kbsync/internal/kbsync"
)

func main() {
	configPath := flag.String("config", os.Getenv("KBSYNC_CONFIG"), "path to YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	notion := kbsync.NewHTTPNotionClient(kbsync.NotionClientOptions{
		BaseURL:       cfg.Notion.BaseURL,
		APIVersion:    cfg.Notion.APIVersion,
		TokenProvider: kbsync.StaticTokenProvider(cfg.Notion.Token),
	})
	detector, err := kbsync.NewApprovalDetector(cfg.Approval.Strategy, notion, kbsync.ApprovalFields{
		ApprovalName: cfg.Approval.FieldName,
		ApprovalID:   cfg.Approval.FieldID,
		TitleName:    cfg.Approval.TitleField,
		BodyName:     cfg.Approval.BodyField,
	})
	if err != nil {
		log.Fatalf("failed to build approval detector: %v", err)
	}
	dify := kbsync.NewHTTPDifyClient(kbsync.DifyClientOptions{
		BaseURL:         cfg.Dify.BaseURL,
		APIKey:          cfg.Dify.APIKey,
		KnowledgeBaseID: cfg.Dify.KnowledgeBaseID,
	})

	pipeline := kbsync.Pipeline{
		Detector: detector,
		Dispatcher: kbsync.Dispatcher{
			Target:        dify,
			MaxNameLength: cfg.Dify.MaxNameLength,
		},
		Allow: cfg.Events.AllowSet(),
	}
	server := httpapi.NewServerWithConfig(pipeline, httpapi.ServerConfig{
		SigningSecret: cfg.SigningSecret,
		MaxBodyBytes:  cfg.MaxBodyBytes,
	})

	if cfg.SigningSecret == "" {
		log.Printf("signature verification disabled: no signing secret configured")
	}
	if cfg.Dify.APIKey == "" || cfg.Dify.KnowledgeBaseID == "" {
		log.Printf("sync target not configured: approved events will be skipped, not synced")
	}
	log.Printf("kbsync listening on %s (approval strategy: %s)", cfg.ListenAddr, cfg.Approval.Strategy)
	if err := http.ListenAndServe(cfg.ListenAddr, server); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
