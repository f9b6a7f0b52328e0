package ir

// AppHost is the declarative topology evaluated from apphost.pkl.
type AppHost struct {
	Name       string          `pkl:"name"`
	Parameters []*Parameter    `pkl:"parameters"`
	Resources  []*ResourceSpec `pkl:"resources"`
}

// Parameter declares an input value.
type Parameter struct {
	Name             string  `pkl:"name"`
	Secret           bool    `pkl:"secret"`
	ConnectionString bool    `pkl:"connectionString"`
	Value            *string `pkl:"value"`
	// Generate asks for a random default of at least this many characters.
	Generate *int `pkl:"generate"`
}

// ResourceSpec declares one resource. Kind selects the factory: container,
// executable, redis, seq, keycloak or storage.
type ResourceSpec struct {
	Kind       string            `pkl:"kind"`
	Name       string            `pkl:"name"`
	Image      *string           `pkl:"image"`
	Tag        *string           `pkl:"tag"`
	Command    *string           `pkl:"command"`
	WorkingDir *string           `pkl:"workingDir"`
	Port       *int              `pkl:"port"`
	Parent     *string           `pkl:"parent"`
	Endpoints  []*Endpoint       `pkl:"endpoints"`
	Env        map[string]string `pkl:"env"`
	Args       []string          `pkl:"args"`
	References []string          `pkl:"references"`
	WaitFor    []string          `pkl:"waitFor"`
	Volumes    []*Volume         `pkl:"volumes"`
	// Options carries integration specific settings such as password,
	// dataVolume, commander, realmImport or emulator.
	Options map[string]string `pkl:"options"`
}

// Endpoint declares a network endpoint.
type Endpoint struct {
	Name       string  `pkl:"name"`
	Scheme     *string `pkl:"scheme"`
	Port       *int    `pkl:"port"`
	TargetPort *int    `pkl:"targetPort"`
	External   bool    `pkl:"external"`
}

// Volume declares a named volume or, when Bind is set, a host bind mount.
type Volume struct {
	Source   string `pkl:"source"`
	Target   string `pkl:"target"`
	Bind     bool   `pkl:"bind"`
	ReadOnly bool   `pkl:"readOnly"`
}
