package catalog

import "testing"

func TestDescribeCache_DisabledWhenSizeNonPositive(t *testing.T) {
	c, err := NewDescribeCache(0)
	if err != nil {
		t.Fatalf("NewDescribeCache(0): %v", err)
	}
	c.Put("roads", ResourceDescriptor{ResourceStub: ResourceStub{DBResourceID: "roads"}})
	if _, ok := c.Get("roads"); ok {
		t.Fatal("expected disabled cache to never report a hit")
	}
}

func TestDescribeCache_PutGet(t *testing.T) {
	c, err := NewDescribeCache(8)
	if err != nil {
		t.Fatalf("NewDescribeCache(8): %v", err)
	}

	desc := ResourceDescriptor{
		ResourceStub:   ResourceStub{DBResourceID: "roads", Table: "roads"},
		GeometryColumn: "geom",
		SRID:           2100,
		Alias:          "t1", // must not survive into the cache
	}
	c.Put("roads", desc)

	got, ok := c.Get("roads")
	if !ok {
		t.Fatal("expected cache hit for roads")
	}
	if got.GeometryColumn != "geom" || got.SRID != 2100 {
		t.Fatalf("unexpected descriptor returned from cache: %+v", got)
	}
	if got.Alias != "" {
		t.Fatalf("expected cached descriptor to have no per-batch alias, got %q", got.Alias)
	}
}

func TestDescribeCache_MissForUnknownResource(t *testing.T) {
	c, err := NewDescribeCache(8)
	if err != nil {
		t.Fatalf("NewDescribeCache(8): %v", err)
	}
	if _, ok := c.Get("unknown"); ok {
		t.Fatal("expected miss for resource never put in cache")
	}
}

func TestDescribeCache_Eviction(t *testing.T) {
	c, err := NewDescribeCache(1)
	if err != nil {
		t.Fatalf("NewDescribeCache(1): %v", err)
	}
	c.Put("a", ResourceDescriptor{ResourceStub: ResourceStub{DBResourceID: "a"}})
	c.Put("b", ResourceDescriptor{ResourceStub: ResourceStub{DBResourceID: "b"}})

	if _, ok := c.Get("a"); ok {
		t.Fatal("expected 'a' to be evicted once capacity 1 is exceeded")
	}
	if _, ok := c.Get("b"); !ok {
		t.Fatal("expected 'b' to remain cached")
	}
}
