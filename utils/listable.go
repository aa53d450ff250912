package utils

// Listable accepts either a single value or a list in yaml.
type Listable[T any] []T

func (l *Listable[T]) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var list []T
	err := unmarshal(&list)
	if err == nil {
		*l = list
		return nil
	}
	var single T
	if unmarshal(&single) == nil {
		*l = []T{single}
		return nil
	}
	return err
}

func (l Listable[T]) MarshalYAML() (interface{}, error) {
	if len(l) == 1 {
		return l[0], nil
	}
	return []T(l), nil
}
