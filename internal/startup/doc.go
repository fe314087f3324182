// Package startup loads and validates configuration and prints the
// startup banner.
//
// # Configuration
//
// Settings are read from environment variables by [FromEnv], may be
// overridden by command-line flags, and are then resolved by [Load]:
//
//   - IMAGE_DIR: directory scanned for images (default: Images)
//   - OUTPUT_DIR: directory receiving JSON documents and roll-ups (default: Output)
//   - CATALOG_PATH: SQLite catalog file (default: OUTPUT_DIR/image_analysis.db)
//   - CATALOG_ENABLED: write the catalog at all (default: true)
//   - ANALYZERS: comma list of metadata, caption, vision_language (default: all)
//   - CONCURRENCY: sequential or pool (default: sequential)
//   - MAX_WORKERS: pool size cap (default: 4)
//   - FORCE_REPROCESS: ignore stored complete records (default: false)
//   - GENERATE_SUMMARIES: write roll-ups after the batch (default: true)
//   - IMAGE_EXTENSIONS, EXCLUDE_PATTERNS, INCLUDE_HIDDEN: scan filters
//   - HASH_ALGORITHM: md5, sha1, sha256 or blake2b (default: md5)
//   - CAPTION_API_URL, CAPTION_MODEL, CAPTION_MODES, CAPTION_API_PASSWORD, CAPTION_TIMEOUT
//   - VISION_PROVIDER, VISION_API_URL, VISION_MODEL, VISION_API_KEY,
//     VISION_PROMPT, VISION_MAX_TOKENS, VISION_TIMEOUT
//   - METRICS_ADDR: listen address of the status server (default: disabled)
//   - LOG_LEVEL: debug, info, warn, error (default: info)
//   - ANALYZER_PROFILE: optional TOML profile, see [Profile]
//
// # Analyzer profile
//
// The profile declares caption modes, vision-language models, named
// prompts and retry overrides:
//
//	[caption]
//	modes = ["best", "fast"]
//
//	[vision]
//	provider = "openai"
//	models = ["gpt-4o-mini"]
//	api_key_env = "OPENAI_API_KEY"
//
//	[[vision.prompts]]
//	id = "describe"
//	text = "Describe this image in detail."
//
//	[retry.network]
//	max_retries = 5
//	base_delay = "2s"
package startup
