// Package gateway provides a reusable plan-generation gateway library that can be embedded into other Go applications.
//
// # Overview
//
// The Plan Gateway runs AI-assisted graduation plan generation as asynchronous
// jobs. Each job drafts a plan with a generator backend (OpenAI by default),
// validates the draft against transcript and program requirements, and runs
// bounded repair attempts until the plan passes or the attempt budget is
// exhausted. Progress is recorded in an append-only event ledger and exposed
// over a REST API with a Server-Sent Events stream per job.
//
// # Basic Usage
//
// Create a gateway programmatically:
//
//	cfg := &gateway.Config{
//		Server: gateway.ServerConfig{
//			Port:         8080,
//			ReadTimeout:  30 * time.Second,
//			WriteTimeout: 10 * time.Minute,
//		},
//		Auth: gateway.AuthConfig{
//			APIKeys: []gateway.APIKey{
//				{Name: "my-app", Key: "secret-key-here"},
//			},
//		},
//		Generator: gateway.GeneratorConfig{
//			Kind: "openai",
//			OpenAI: &gateway.OpenAIConfig{
//				APIKey: os.Getenv("OPENAI_API_KEY"),
//				Model:  "gpt-4o-mini",
//			},
//		},
//		Storage: gateway.StorageConfig{
//			Kind: "sqlite",
//			Path: "plan-gateway.db",
//		},
//		Jobs: gateway.JobsConfig{
//			MaxAttempts: 3,
//		},
//		Logging: gateway.LoggingConfig{
//			Level:  "info",
//			Format: "json",
//		},
//	}
//
//	gw, err := gateway.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := gw.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// # Using with Existing HTTP Server
//
// Integrate the gateway into an existing HTTP server:
//
//	gw, err := gateway.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Mount the gateway under a specific path
//	http.Handle("/plans/", http.StripPrefix("/plans", gw.Handler()))
//
//	// Add your own routes
//	http.HandleFunc("/custom", myHandler)
//
//	http.ListenAndServe(":8080", nil)
//
// # File-based Configuration
//
// Load configuration from a YAML file with environment variable expansion:
//
//	gw, err := gateway.NewFromEnv("configs/gateway.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := gw.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// # Direct Service Access
//
// Access the service layer directly for programmatic control:
//
//	gw, err := gateway.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	svc := gw.Service()
//
//	// Submit a generation job programmatically
//	job, reused, err := svc.CreateJob(ctx, "my-app", "student-42", payload)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Job %s accepted (reused=%v)\n", job.ID, reused)
package gateway
