package adapter

type Starter interface {
	Start() error
}

type Closer interface {
	Close() error
}
