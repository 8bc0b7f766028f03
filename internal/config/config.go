package config

import (
    "fmt"
    "log/slog"
    "strings"
    "time"

    "github.com/spf13/viper"
)

type Config struct {
    Server struct {
        Port       string
        Env        string
        LogLevel   string
        PublicURL  string
        CORSOrigin string
    }
    GRPC struct {
        Addr string
    }
    OpenAI struct {
        APIKey             string
        RealtimeURL        string
        Model              string
        SessionsURL        string
        Voice              string
        SessionVoice       string
        TranscriptionModel string
        Language           string
        Temperature        float64
        AudioFormat        string
        VAD                string
    }
    Property struct {
        Name         string
        Location     string
        Description  string
        SystemPrompt string
    }
    Bridge struct {
        Greeting          string
        Farewell          string
        ReservationPrompt string
        HangupGrace       time.Duration
        QueueSize         int
        LookupTimeout     time.Duration
        MaxCalls          int
    }
    DB struct {
        URL string
    }
    Redis struct {
        Addr string
    }
    Auth struct {
        StreamSecret   string
        StreamTokenTTL time.Duration
    }
}

func Load() Config {
    v := viper.New()
    v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
    v.AutomaticEnv()

    // Defaults
    v.SetDefault("server.port", 8080)
    v.SetDefault("server.env", "local")
    v.SetDefault("server.log_level", "info")
    v.SetDefault("server.cors_origin", "http://localhost:8080")
    v.SetDefault("grpc.addr", ":9090")

    v.SetDefault("openai.realtime_url", "wss://api.openai.com/v1/realtime")
    v.SetDefault("openai.model", "gpt-4o-realtime-preview-2024-12-17")
    v.SetDefault("openai.sessions_url", "https://api.openai.com/v1/realtime/sessions")
    v.SetDefault("openai.voice", "coral")
    v.SetDefault("openai.session_voice", "verse")
    v.SetDefault("openai.transcription_model", "gpt-4o-transcribe")
    v.SetDefault("openai.language", "ro")
    v.SetDefault("openai.temperature", 0.65)
    v.SetDefault("openai.audio_format", "g711_ulaw")
    v.SetDefault("openai.vad", "server_vad")

    v.SetDefault("bridge.greeting", "te rog spune-i buna ziua clientului, unde a sunat si ce poti face pentru el")
    v.SetDefault("bridge.farewell", "te rog ia ti ramas bun de la client")
    v.SetDefault("bridge.reservation_prompt", "te rog spune-i clientului ce rezervare ai gasit")
    v.SetDefault("bridge.hangup_grace_ms", 4000)
    v.SetDefault("bridge.queue_size", 64)
    v.SetDefault("bridge.lookup_timeout_ms", 3000)
    v.SetDefault("bridge.max_calls", 0)

    v.SetDefault("auth.stream_token_ttl_s", 300)

    // Map envs
    v.BindEnv("server.port", "PORT")
    v.BindEnv("server.env", "APP_ENV")
    v.BindEnv("server.log_level", "LOG_LEVEL")
    v.BindEnv("server.public_url", "PUBLIC_URL")
    v.BindEnv("server.cors_origin", "CORS_ORIGIN")
    v.BindEnv("grpc.addr", "GRPC_ADDR")

    v.BindEnv("openai.api_key", "OPENAI_API_KEY")
    v.BindEnv("openai.realtime_url", "OPENAI_REALTIME_URL")
    v.BindEnv("openai.model", "OPENAI_REALTIME_MODEL")
    v.BindEnv("openai.sessions_url", "OPENAI_SESSIONS_URL")
    v.BindEnv("openai.voice", "OPENAI_VOICE")
    v.BindEnv("openai.session_voice", "OPENAI_SESSION_VOICE")
    v.BindEnv("openai.transcription_model", "OPENAI_TRANSCRIPTION_MODEL")
    v.BindEnv("openai.language", "OPENAI_LANGUAGE")
    v.BindEnv("openai.temperature", "OPENAI_TEMPERATURE")
    v.BindEnv("openai.audio_format", "OPENAI_AUDIO_FORMAT")
    v.BindEnv("openai.vad", "OPENAI_VAD")

    v.BindEnv("property.name", "PROPERTY_NAME")
    v.BindEnv("property.location", "PROPERTY_LOCATION")
    v.BindEnv("property.description", "PROPERTY_DESCRIPTION")
    v.BindEnv("property.system_prompt", "SYSTEM_PROMPT")

    v.BindEnv("bridge.greeting", "BRIDGE_GREETING")
    v.BindEnv("bridge.farewell", "BRIDGE_FAREWELL")
    v.BindEnv("bridge.reservation_prompt", "BRIDGE_RESERVATION_PROMPT")
    v.BindEnv("bridge.hangup_grace_ms", "BRIDGE_HANGUP_GRACE_MS")
    v.BindEnv("bridge.queue_size", "BRIDGE_QUEUE_SIZE")
    v.BindEnv("bridge.lookup_timeout_ms", "BRIDGE_LOOKUP_TIMEOUT_MS")
    v.BindEnv("bridge.max_calls", "BRIDGE_MAX_CALLS")

    v.BindEnv("db.url", "DATABASE_URL")
    v.BindEnv("redis.addr", "REDIS_ADDR")

    v.BindEnv("auth.stream_secret", "STREAM_TOKEN_SECRET")
    v.BindEnv("auth.stream_token_ttl_s", "STREAM_TOKEN_TTL_S")

    var c Config
    c.Server.Port = toString(v.Get("server.port"))
    c.Server.Env = v.GetString("server.env")
    c.Server.LogLevel = v.GetString("server.log_level")
    c.Server.PublicURL = strings.TrimRight(v.GetString("server.public_url"), "/")
    c.Server.CORSOrigin = v.GetString("server.cors_origin")
    c.GRPC.Addr = v.GetString("grpc.addr")

    c.OpenAI.APIKey = v.GetString("openai.api_key")
    c.OpenAI.RealtimeURL = v.GetString("openai.realtime_url")
    c.OpenAI.Model = v.GetString("openai.model")
    c.OpenAI.SessionsURL = v.GetString("openai.sessions_url")
    c.OpenAI.Voice = v.GetString("openai.voice")
    c.OpenAI.SessionVoice = v.GetString("openai.session_voice")
    c.OpenAI.TranscriptionModel = v.GetString("openai.transcription_model")
    c.OpenAI.Language = v.GetString("openai.language")
    c.OpenAI.Temperature = v.GetFloat64("openai.temperature")
    c.OpenAI.AudioFormat = v.GetString("openai.audio_format")
    c.OpenAI.VAD = v.GetString("openai.vad")

    c.Property.Name = v.GetString("property.name")
    c.Property.Location = v.GetString("property.location")
    c.Property.Description = v.GetString("property.description")
    c.Property.SystemPrompt = v.GetString("property.system_prompt")

    c.Bridge.Greeting = v.GetString("bridge.greeting")
    c.Bridge.Farewell = v.GetString("bridge.farewell")
    c.Bridge.ReservationPrompt = v.GetString("bridge.reservation_prompt")
    c.Bridge.HangupGrace = time.Duration(v.GetInt("bridge.hangup_grace_ms")) * time.Millisecond
    c.Bridge.QueueSize = v.GetInt("bridge.queue_size")
    c.Bridge.LookupTimeout = time.Duration(v.GetInt("bridge.lookup_timeout_ms")) * time.Millisecond
    c.Bridge.MaxCalls = v.GetInt("bridge.max_calls")

    c.DB.URL = v.GetString("db.url")
    c.Redis.Addr = v.GetString("redis.addr")

    c.Auth.StreamSecret = v.GetString("auth.stream_secret")
    c.Auth.StreamTokenTTL = time.Duration(v.GetInt("auth.stream_token_ttl_s")) * time.Second

    slog.Info("config loaded",
        "port", c.Server.Port,
        "env", c.Server.Env,
        "model", c.OpenAI.Model,
        "openai_key_set", c.OpenAI.APIKey != "",
        "db", c.DB.URL != "",
        "redis", c.Redis.Addr != "",
    )
    return c
}

// IsDev reports whether verbose local defaults apply.
func (c Config) IsDev() bool {
    return c.Server.Env == "local" || c.Server.Env == "dev"
}

func toString(v any) string { return fmt.Sprint(v) }
