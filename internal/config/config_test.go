package config

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func TestResolveFillsDefaults(t *testing.T) {
	c := &Config{}
	c.Resolve()
	if c.MaxChildren != 100 {
		t.Errorf("expected default max_children=100, got %d", c.MaxChildren)
	}
	if c.Port != 9003 {
		t.Errorf("expected default port=9003, got %d", c.Port)
	}
	if c.Hostname != "localhost" {
		t.Errorf("expected default hostname=localhost, got %q", c.Hostname)
	}
}

func TestResolveDoesNotOverrideExplicitValues(t *testing.T) {
	c := &Config{MaxChildren: 50, Port: 9123, Hostname: "0.0.0.0"}
	c.Resolve()
	if c.MaxChildren != 50 || c.Port != 9123 || c.Hostname != "0.0.0.0" {
		t.Fatalf("Resolve must not clobber explicitly set values, got %+v", c)
	}
}

func TestResolveFoldsLegacySourceRootsIntoPathMappings(t *testing.T) {
	c := &Config{ServerSourceRoot: "file:///srv/app", LocalSourceRoot: "/home/dev/app"}
	c.Resolve()
	if len(c.PathMappings) != 1 {
		t.Fatalf("expected legacy roots folded into one mapping entry, got %d", len(c.PathMappings))
	}
	if c.PathMappings[0].ServerURI != "file:///srv/app" || c.PathMappings[0].ClientPath != "/home/dev/app" {
		t.Fatalf("unexpected folded mapping entry: %+v", c.PathMappings[0])
	}
}

func TestLoadFromBoundFlags(t *testing.T) {
	v := viper.New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(v, fs)

	if err := fs.Parse([]string{
		"--hostname=example.test",
		"--port=9999",
		"--stop-on-entry",
		"--ignore=vendor/**",
		"--skip-files=**/*_test.php",
		"--max-children=25",
		"--proxy-enable",
		"--proxy-key=IDEKEY",
	}); err != nil {
		t.Fatalf("flag parse: %v", err)
	}

	c, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Hostname != "example.test" || c.Port != 9999 {
		t.Fatalf("unexpected hostname/port: %+v", c)
	}
	if !c.StopOnEntry {
		t.Fatal("expected stop_on_entry=true")
	}
	if len(c.Ignore) != 1 || c.Ignore[0] != "vendor/**" {
		t.Fatalf("unexpected ignore: %+v", c.Ignore)
	}
	if len(c.SkipFiles) != 1 || c.SkipFiles[0] != "**/*_test.php" {
		t.Fatalf("unexpected skip_files: %+v", c.SkipFiles)
	}
	if c.MaxChildren != 25 {
		t.Fatalf("expected max_children=25, got %d", c.MaxChildren)
	}
	if !c.Proxy.Enable || c.Proxy.Key != "IDEKEY" {
		t.Fatalf("unexpected proxy config: %+v", c.Proxy)
	}
}

func TestLoadUnderscoreAliasMatchesDashFlag(t *testing.T) {
	v := viper.New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(v, fs)
	v.Set("max_connections", 4)

	c, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.MaxConnections != 4 {
		t.Fatalf("expected underscore alias to bind to max-connections, got %d", c.MaxConnections)
	}
}
