package stream

import "go.mongodb.org/mongo-driver/bson"

// UnmarshalBSON decodes a document of the form {"<tag>": {...}}, so records
// can be read straight from a collection cursor.
func (r *Record) UnmarshalBSON(data []byte) error {
	elems, err := bson.Raw(data).Elements()
	if err != nil {
		return err
	}
	return r.decode(len(elems), func(yield func(string, func(any) error) error) error {
		for _, e := range elems {
			if e.Key() == "_id" {
				continue
			}
			v := e.Value()
			if err := yield(e.Key(), v.Unmarshal); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarshalBSON encodes the record as {"<tag>": {...}}.
func (r Record) MarshalBSON() ([]byte, error) {
	switch p := r.Payload.(type) {
	case nil:
		return bson.Marshal(bson.D{})
	case Unknown:
		return bson.Marshal(bson.D{{Key: p.Name, Value: bson.D{}}})
	default:
		return bson.Marshal(bson.D{{Key: string(p.Tag()), Value: p}})
	}
}
